// atomkv command-line host
// Exercises a database file directly from the shell: no network
// service, per the engine's scope (the core is an embeddable library).
package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/nainya/atomkv"
)

var (
	dbPath   = flag.String("db", "atomkv.db", "database file path")
	pageSize = flag.Int("page-size", 4096, "page size in bytes; must match an existing file's page size")
)

func main() {
	flag.Parse()
	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	db, err := atomkv.Open(atomkv.Options{PageSize: *pageSize}, *dbPath)
	if err != nil {
		log.Fatalf("open %s: %v", *dbPath, err)
	}
	defer db.Close()

	switch args[0] {
	case "get":
		runGet(db, args[1:])
	case "put":
		runPut(db, args[1:])
	case "delete":
		runDelete(db, args[1:])
	case "scan":
		runScan(db, args[1:])
	case "stats":
		runStats(db)
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: atomkv [-db path] <get|put|delete|scan|stats> [args]")
	fmt.Fprintln(os.Stderr, "  get <key>")
	fmt.Fprintln(os.Stderr, "  put <key> <value>")
	fmt.Fprintln(os.Stderr, "  delete <key>")
	fmt.Fprintln(os.Stderr, "  scan [prefix]")
	fmt.Fprintln(os.Stderr, "  stats")
}

func runGet(db *atomkv.DB, args []string) {
	if len(args) != 1 {
		usage()
		os.Exit(2)
	}
	tx, err := db.View()
	if err != nil {
		log.Fatal(err)
	}
	defer tx.End()

	val, ok := tx.UserBucket().Get([]byte(args[0]))
	if !ok {
		fmt.Fprintln(os.Stderr, "not found")
		os.Exit(1)
	}
	os.Stdout.Write(val)
	fmt.Println()
}

func runPut(db *atomkv.DB, args []string) {
	if len(args) != 2 {
		usage()
		os.Exit(2)
	}
	tx, err := db.Update()
	if err != nil {
		log.Fatal(err)
	}
	if err := tx.UserBucket().Put([]byte(args[0]), []byte(args[1])); err != nil {
		tx.RollBack()
		log.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		log.Fatal(err)
	}
}

func runDelete(db *atomkv.DB, args []string) {
	if len(args) != 1 {
		usage()
		os.Exit(2)
	}
	tx, err := db.Update()
	if err != nil {
		log.Fatal(err)
	}
	ok, err := tx.UserBucket().Delete([]byte(args[0]))
	if err != nil {
		tx.RollBack()
		log.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		log.Fatal(err)
	}
	if !ok {
		fmt.Fprintln(os.Stderr, "not found")
		os.Exit(1)
	}
}

func runScan(db *atomkv.DB, args []string) {
	var prefix []byte
	if len(args) == 1 {
		prefix = []byte(args[0])
	}

	tx, err := db.View()
	if err != nil {
		log.Fatal(err)
	}
	defer tx.End()

	w := bufio.NewWriter(os.Stdout)
	defer w.Flush()
	tx.UserBucket().LowerBound(prefix, func(key, val []byte) bool {
		if len(prefix) > 0 && !strings.HasPrefix(string(key), string(prefix)) {
			return false
		}
		fmt.Fprintf(w, "%s\t%s\n", key, val)
		return true
	})
}

func runStats(db *atomkv.DB) {
	s := db.Stats()
	fmt.Printf("txid: %d\n", s.TxId)
	fmt.Printf("pages: %d\n", s.PageCount)
	fmt.Printf("free pages: %d\n", s.FreePageCount)
	fmt.Printf("active readers: %d\n", s.ActiveReaders)
}
