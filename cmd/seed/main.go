// The seed tool creates or resets an admin account so a fresh deployment
// can log in.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"adsdash/internal/auth"
	"adsdash/internal/config"
	"adsdash/internal/log"
	"adsdash/internal/storage"
)

func main() {
	_ = godotenv.Load()

	username := flag.String("username", "admin", "username for the account")
	password := flag.String("password", "", "password for the account (required)")
	name := flag.String("name", "Administrator", "display name")
	email := flag.String("email", "", "email address")
	role := flag.String("role", "ADMIN", "role: ADMIN or EMPLOYEE")
	teams := flag.String("teams", "", "comma separated team names the account may view")
	flag.Parse()

	logger := log.New(log.DefaultConfig()).WithComponent(log.ComponentApp)

	if *password == "" {
		fmt.Fprintln(os.Stderr, "usage: seed -username admin -password <secret> [-role ADMIN]")
		os.Exit(2)
	}
	if *role != "ADMIN" && *role != "EMPLOYEE" {
		fmt.Fprintf(os.Stderr, "invalid role %q: must be ADMIN or EMPLOYEE\n", *role)
		os.Exit(2)
	}

	cfg := config.Load()
	repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath)
	if err != nil {
		logger.Error("failed to open database", log.FieldError, err, "path", cfg.SQLiteDBPath)
		os.Exit(1)
	}
	defer repo.Close()

	hash, err := auth.HashPassword(*password)
	if err != nil {
		logger.Error("failed to hash password", log.FieldError, err)
		os.Exit(1)
	}

	var teamList []string
	for _, t := range strings.Split(*teams, ",") {
		if t = strings.TrimSpace(t); t != "" {
			teamList = append(teamList, t)
		}
	}

	id, err := repo.CreateUser(context.Background(), storage.User{
		Username:     *username,
		PasswordHash: hash,
		Name:         *name,
		Email:        *email,
		Role:         *role,
		Teams:        teamList,
		IsActive:     true,
	})
	if err != nil {
		logger.Error("failed to create user", log.FieldError, err, log.FieldUsername, *username)
		os.Exit(1)
	}

	logger.Info("user created", log.FieldUsername, *username, "id", id, "role", *role)
}
