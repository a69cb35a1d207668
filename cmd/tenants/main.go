package main

import (
	"context"
	"fmt"
	"log"

	"fieldserve.com/fieldserve/console"
)

// Prints the tenant directory so operators can check which schemas the sync
// server will route to.
func main() {
	ctx := context.Background()

	db, err := console.Connect(ctx)
	if err != nil {
		log.Fatalf("failed to connect console database: %v", err)
	}

	tenants, err := console.GetTenants(db)
	if err != nil {
		log.Fatalf("failed to list tenants: %v", err)
	}

	for _, t := range tenants {
		status := "active"
		if t.Deactivated != 0 {
			status = "deactivated"
		}
		fmt.Printf("%-12s %-30s schema=%-16s %s\n", t.Code, t.Domain, t.Schema, status)
	}
}
