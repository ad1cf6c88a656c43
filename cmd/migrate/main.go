// Copyright (C) 2026 Plainlex
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"fmt"
	"os"

	"github.com/plainlex/plainlex/internal/config"
	"github.com/plainlex/plainlex/internal/store"
)

func main() {
	// Load configuration
	cfg, err := config.NewConfig("config.yaml")
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	// Create database connection
	db, err := store.NewGormStore(&cfg.Database)
	if err != nil {
		fmt.Printf("Error connecting to database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	fmt.Println("🚀 Starting database migration...")
	fmt.Printf("Database: %s\n", cfg.Database.GetDSN())

	// Run migrations
	if err := db.AutoMigrate(); err != nil {
		fmt.Printf("❌ Migration failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("✅ Database migration completed successfully!")
}
