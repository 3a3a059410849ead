package sdk

import (
	"os"

	"github.com/celerix-dev/celerix-tablecrypt/pkg/engine"
	"github.com/grailbio/base/log"
)

// New initializes the store based on the environment.
// It returns the interface, so the app doesn't care if it's local or remote.
func New(dataDir string) (TableStore, error) {
	// 1. Check if a remote store is defined in environment variables
	if remoteAddr := os.Getenv("CELERIX_TABLE_ADDR"); remoteAddr != "" {
		client, err := Connect(remoteAddr)
		if err == nil {
			return client, nil
		}
		log.Error.Printf("sdk: remote store %s unavailable, using embedded store: %v", remoteAddr, err)
	}

	// 2. Fallback to embedded mode
	// This uses the same engine the server uses, but inside the app process.
	p, err := engine.OpenPersister(dataDir, os.Getenv("CELERIX_STORAGE"))
	if err != nil {
		return nil, err
	}
	allData, err := p.LoadAll()
	if err != nil {
		return nil, err
	}
	return engine.NewMemStore(allData, p), nil
}
