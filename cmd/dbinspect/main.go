package main

import (
	"encoding/json/v2"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"github.com/tithebookapp/tithebook-server/internal/domain"
)

func main() {
	dbPath := os.Getenv("DB_PATH")
	if dbPath == "" {
		dbPath = os.ExpandEnv("$HOME/Tithebook/data/db")
	}

	opts := badger.DefaultOptions(dbPath).
		WithReadOnly(true).
		WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	fmt.Println("=== Database Inspection ===")
	fmt.Println()

	// Order entries grouped by assembly
	perAssembly := map[string]int{}
	inactive := 0

	err = db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(iterOpts("order:"))
		defer it.Close()

		for it.Seek([]byte("order:")); it.ValidForPrefix([]byte("order:")); it.Next() {
			if isIndexKey(string(it.Item().Key())) {
				continue
			}
			err := it.Item().Value(func(val []byte) error {
				var entry domain.MemberOrderEntry
				if err := json.Unmarshal(val, &entry); err != nil {
					return err
				}
				perAssembly[entry.AssemblyName]++
				if !entry.IsActive {
					inactive++
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		log.Fatalf("Failed to scan orders: %v", err)
	}

	fmt.Println("Member orders:")
	for assembly, count := range perAssembly {
		fmt.Printf("  %s: %d members\n", assembly, count)
	}
	fmt.Printf("  inactive entries: %d\n", inactive)
	fmt.Println()

	// Hand counts for the remaining collections
	fmt.Printf("History entries:  %d\n", countPrefix(db, "hist:"))
	fmt.Printf("Snapshots:        %d\n", countPrefix(db, "snap:"))
	fmt.Printf("Corrections:      %d\n", countPrefix(db, "corr:"))
	fmt.Println()

	// Pending actions with retry detail
	fmt.Println("Pending actions:")
	pending := 0
	err = db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(iterOpts("action:"))
		defer it.Close()

		for it.Seek([]byte("action:")); it.ValidForPrefix([]byte("action:")); it.Next() {
			if isIndexKey(string(it.Item().Key())) {
				continue
			}
			err := it.Item().Value(func(val []byte) error {
				var action domain.PendingAction
				if err := json.Unmarshal(val, &action); err != nil {
					return err
				}
				pending++
				fmt.Printf("  seq %d: %s %s", action.Seq, action.Type, action.EntityID)
				if action.RetryCount > 0 {
					fmt.Printf(" (retries: %d, last error: %s)", action.RetryCount, action.LastError)
				}
				fmt.Println()
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		log.Fatalf("Failed to scan actions: %v", err)
	}
	if pending == 0 {
		fmt.Println("  (none)")
	}
}

func iterOpts(prefix string) badger.IteratorOptions {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(prefix)
	return opts
}

// isIndexKey skips secondary index keys, which hold no entity payload.
func isIndexKey(key string) bool {
	return strings.Contains(key, ":idx:")
}

func countPrefix(db *badger.DB, prefix string) int {
	count := 0
	_ = db.View(func(txn *badger.Txn) error {
		opts := iterOpts(prefix)
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek([]byte(prefix)); it.ValidForPrefix([]byte(prefix)); it.Next() {
			if !isIndexKey(string(it.Item().Key())) {
				count++
			}
		}
		return nil
	})
	return count
}
