// Command createadmin bootstraps an admin account. There is no signup
// endpoint; accounts are provisioned from the shell.
//
//	createadmin -username principal
//
// The password is read from stdin to keep it out of shell history.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/Haven-Lv/students-checkin-sytem/internal/auth"
	"github.com/Haven-Lv/students-checkin-sytem/internal/checkin"
	"github.com/Haven-Lv/students-checkin-sytem/internal/config"
	"github.com/Haven-Lv/students-checkin-sytem/internal/postgres"
)

func main() {
	username := flag.String("username", "", "admin username")
	flag.Parse()
	if *username == "" {
		log.Fatal("-username is required")
	}

	password, err := readPassword()
	if err != nil {
		log.Fatalf("read password: %v", err)
	}
	if len(password) < 8 {
		log.Fatal("password must be at least 8 characters")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db, err := postgres.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer func() { _ = db.Close() }()

	hash, err := auth.HashPassword(password)
	if err != nil {
		log.Fatalf("hash password: %v", err)
	}

	if err := postgres.NewStore(db).CreateAdmin(ctx, *username, hash); err != nil {
		if errors.Is(err, checkin.ErrDuplicate) {
			log.Fatalf("admin %q already exists", *username)
		}
		log.Fatalf("create admin: %v", err)
	}
	fmt.Printf("admin %q created\n", *username)
}

func readPassword() (string, error) {
	fmt.Fprint(os.Stderr, "Password: ")
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
