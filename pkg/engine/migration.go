package engine

import (
	"fmt"

	"github.com/grailbio/base/errors"
)

// Migrate copies every table and record from src to dst, keeping record
// IDs so that reference fields stay valid. This works for:
// - Embedded -> Remote (The "Upgrade")
// - Remote -> Embedded (The "Backup/Offline")
func Migrate(src Store, dst Store) error {
	tables, err := src.ListTables()
	if err != nil {
		return errors.E("engine: list tables", err)
	}

	for _, tID := range tables {
		s, err := src.GetTable(tID)
		if err != nil {
			return errors.E(fmt.Sprintf("engine: get table %s", tID), err)
		}
		if _, err := dst.CreateTable(s, s.Mode()); err != nil {
			return errors.E(fmt.Sprintf("engine: create table %s in destination", tID), err)
		}

		for offset := 0; ; {
			page, err := src.ListRecords(tID, offset, DefaultPageSize)
			if err != nil {
				return errors.E(fmt.Sprintf("engine: list records of table %s", tID), err)
			}
			for i := range page.Records {
				if err := dst.RestoreRecord(tID, &page.Records[i]); err != nil {
					return errors.E(fmt.Sprintf("engine: restore record %s in destination", page.Records[i].ID), err)
				}
			}
			offset += len(page.Records)
			if len(page.Records) == 0 || offset >= page.Total {
				break
			}
		}
	}
	return nil
}
