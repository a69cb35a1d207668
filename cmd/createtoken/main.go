package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"fieldserve.com/fieldserve/security"
)

// Mints a device bearer token for the sync endpoints. The signing secret
// comes from FIELDSERVE_SIGNING_SECRET (base64).
func main() {
	tenantID := flag.String("tenant", "", "tenant the device belongs to")
	deviceID := flag.String("device", "", "device identifier")
	userName := flag.String("user", "", "technician user name")
	expires := flag.Int64("expires", 60*60*24*30, "token lifetime in seconds")
	flag.Parse()

	if *tenantID == "" || *deviceID == "" {
		flag.Usage()
		os.Exit(2)
	}

	secret := os.Getenv("FIELDSERVE_SIGNING_SECRET")
	if secret == "" {
		log.Fatal("FIELDSERVE_SIGNING_SECRET is not set")
	}

	token, err := security.CreateTenantToken(&security.DeviceIdentity{
		TenantID: *tenantID,
		DeviceID: *deviceID,
		UserName: *userName,
	}, secret, *expires)
	if err != nil {
		log.Fatalf("failed to create token: %v", err)
	}

	fmt.Println(token)
}
