package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/celerix-dev/celerix-tablecrypt/internal/vault"
	"github.com/celerix-dev/celerix-tablecrypt/pkg/fieldcrypt"
	"github.com/celerix-dev/celerix-tablecrypt/pkg/schema"
	"github.com/celerix-dev/celerix-tablecrypt/pkg/sdk"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/must"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		return
	}

	command := strings.ToUpper(os.Args[1])
	args := os.Args[2:]
	userKey := os.Getenv("CELERIX_TABLE_KEY")

	// Commands that need no store
	switch command {
	case "GEN_KEY":
		k, err := vault.GenerateKey()
		must.Nil(err)
		fmt.Println(k)
		return

	case "ENCRYPT":
		if len(args) < 2 {
			log.Fatal("Usage: tablecrypt ENCRYPT <fieldType> <value>")
		}
		key, err := vault.ParseKey(userKey)
		must.Nil(err)
		v, ok, err := fieldcrypt.EncryptField(schema.FieldType(args[0]), parseValue(args[1]), key)
		must.Nil(err)
		if !ok {
			log.Fatal("empty values are not encrypted")
		}
		printJSON(v)
		return

	case "DECRYPT":
		if len(args) < 2 {
			log.Fatal("Usage: tablecrypt DECRYPT <fieldType> <ciphertext>")
		}
		key, err := vault.ParseKey(userKey)
		must.Nil(err)
		v, err := fieldcrypt.DecryptField(schema.FieldType(args[0]), parseValue(args[1]), key)
		must.Nil(err)
		printJSON(v)
		return

	case "KEYWORDS":
		if len(args) < 1 {
			log.Fatal("Usage: tablecrypt KEYWORDS <text>")
		}
		key, err := vault.ParseKey(userKey)
		must.Nil(err)
		text := strings.Join(args, " ")
		printJSON(map[string][]string{"tokens": vault.Tokenize(text), "hashes": vault.HashKeyword(text, key)})
		return

	case "TYPES":
		for _, t := range schema.Types() {
			info, _ := schema.Lookup(t)
			fmt.Printf("%-28s %-10s %s\n", t, info.Category, info.Shape)
		}
		return
	}

	dataDir := os.Getenv("CELERIX_DATA_DIR")
	if dataDir == "" {
		dataDir = "./data"
	}
	store, err := sdk.New(dataDir)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	// Embedded stores write in the background
	if w, ok := store.(interface{ Wait() }); ok {
		defer w.Wait()
	}

	ctx := context.Background()
	scope := func(tableID string) *sdk.TableScope {
		cache, err := fieldcrypt.NewCache(cacheSize())
		must.Nil(err)
		ts, err := sdk.Table(store, tableID, userKey, fieldcrypt.NewDecryptor(cache))
		must.Nil(err)
		return ts
	}

	switch command {
	case "TABLES":
		list, err := store.ListTables()
		must.Nil(err)
		printJSON(list)

	case "CREATE_TABLE":
		if len(args) < 2 {
			log.Fatal("Usage: tablecrypt CREATE_TABLE <none|server|e2ee> <schemaJSON>")
		}
		var s schema.TableSchema
		must.Nilf(json.Unmarshal([]byte(args[1]), &s), "invalid schema")
		created, err := store.CreateTable(&s, schema.EncryptionMode(args[0]))
		must.Nil(err)
		printJSON(created.Redacted())

	case "SCHEMA":
		if len(args) < 1 {
			log.Fatal("Usage: tablecrypt SCHEMA <tableID>")
		}
		printJSON(scope(args[0]).Schema())

	case "CREATE":
		if len(args) < 2 {
			log.Fatal("Usage: tablecrypt CREATE <tableID> <recordJSON>")
		}
		var rec schema.Record
		must.Nilf(json.Unmarshal([]byte(args[1]), &rec), "invalid record")
		r, err := scope(args[0]).Create(rec)
		must.Nil(err)
		fmt.Println(r.ID)

	case "GET":
		if len(args) < 2 {
			log.Fatal("Usage: tablecrypt GET <tableID> <recordID>")
		}
		row, err := scope(args[0]).Get(args[1])
		printRow(row)
		must.Nil(err)

	case "SET_FIELD":
		if len(args) < 4 {
			log.Fatal("Usage: tablecrypt SET_FIELD <tableID> <recordID> <field> <value>")
		}
		_, err := scope(args[0]).UpdateField(args[1], args[2], parseValue(args[3]))
		must.Nil(err)
		fmt.Println("OK")

	case "DELETE":
		if len(args) < 2 {
			log.Fatal("Usage: tablecrypt DELETE <tableID> <recordID>")
		}
		must.Nil(scope(args[0]).Delete(args[1]))
		fmt.Println("OK")

	case "LIST":
		if len(args) < 1 {
			log.Fatal("Usage: tablecrypt LIST <tableID> [offset] [limit]")
		}
		offset, limit := intArg(args, 1), intArg(args, 2)
		rows, err := scope(args[0]).List(ctx, offset, limit)
		printRows(rows)
		must.Nil(err)

	case "SEARCH":
		if len(args) < 3 {
			log.Fatal("Usage: tablecrypt SEARCH <tableID> <field> <text>")
		}
		rows, err := scope(args[0]).SearchKeyword(ctx, args[1], strings.Join(args[2:], " "))
		printRows(rows)
		must.Nil(err)

	case "FILTER":
		if len(args) < 3 {
			log.Fatal("Usage: tablecrypt FILTER <tableID> <field> <value>")
		}
		rows, err := scope(args[0]).FilterEquals(ctx, args[1], parseValue(args[2]))
		printRows(rows)
		must.Nil(err)

	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
	}
}

func printUsage() {
	fmt.Println("tablecrypt - field-level encryption for Celerix tables")
	fmt.Println("\nUsage:")
	fmt.Println("  tablecrypt GEN_KEY")
	fmt.Println("  tablecrypt TYPES")
	fmt.Println("  tablecrypt ENCRYPT <fieldType> <value>")
	fmt.Println("  tablecrypt DECRYPT <fieldType> <ciphertext>")
	fmt.Println("  tablecrypt KEYWORDS <text>")
	fmt.Println("  tablecrypt TABLES")
	fmt.Println("  tablecrypt CREATE_TABLE <none|server|e2ee> <schemaJSON>")
	fmt.Println("  tablecrypt SCHEMA <tableID>")
	fmt.Println("  tablecrypt CREATE <tableID> <recordJSON>")
	fmt.Println("  tablecrypt GET <tableID> <recordID>")
	fmt.Println("  tablecrypt SET_FIELD <tableID> <recordID> <field> <value>")
	fmt.Println("  tablecrypt DELETE <tableID> <recordID>")
	fmt.Println("  tablecrypt LIST <tableID> [offset] [limit]")
	fmt.Println("  tablecrypt SEARCH <tableID> <field> <text>")
	fmt.Println("  tablecrypt FILTER <tableID> <field> <value>")
	fmt.Println("\nEnvironment Variables:")
	fmt.Println("  CELERIX_TABLE_KEY     32-character key of end-to-end encrypted tables")
	fmt.Println("  CELERIX_TABLE_ADDR    Address of tablecryptd (default: embedded store)")
	fmt.Println("  CELERIX_DATA_DIR      Data directory of the embedded store (default: ./data)")
	fmt.Println("  CELERIX_STORAGE       Embedded storage: json or sqlite (default: json)")
	fmt.Println("  CELERIX_CACHE_SIZE    Decryption cache entries (default: 10000)")
}

// parseValue reads a JSON value, falling back to the raw string.
func parseValue(s string) any {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return s
	}
	return v
}

func intArg(args []string, i int) int {
	if len(args) <= i {
		return 0
	}
	n, err := strconv.Atoi(args[i])
	must.Nilf(err, "invalid number %q", args[i])
	return n
}

func cacheSize() int {
	s := os.Getenv("CELERIX_CACHE_SIZE")
	if s == "" {
		return fieldcrypt.DefaultCacheSize
	}
	n, err := strconv.Atoi(s)
	must.Nilf(err, "invalid CELERIX_CACHE_SIZE %q", s)
	return n
}

func printRow(row *sdk.Row) {
	if row == nil {
		return
	}
	printJSON(row)
	for _, e := range row.Errors {
		log.Error.Printf("%v", e)
	}
}

func printRows(rows *sdk.Rows) {
	if rows == nil {
		return
	}
	if rows.Status != fieldcrypt.StatusOK {
		log.Error.Printf("records not decrypted: %v", rows.Status)
	}
	printJSON(rows.Rows)
	for _, r := range rows.Rows {
		for _, e := range r.Errors {
			log.Error.Printf("record %s: %v", r.ID, e)
		}
	}
}

func printJSON(v any) {
	bytes, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Println(v)
		return
	}
	fmt.Println(string(bytes))
}
