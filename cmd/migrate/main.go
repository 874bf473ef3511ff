package main

import (
	"fmt"
	"os"

	"bitbucket.org/mmdatafocus/finsight_backend/config"
	"bitbucket.org/mmdatafocus/finsight_backend/models"
)

// migrate runs schema migrations as a standalone job. Deploy with
// SKIP_MIGRATIONS=true on the API service and run this off-path instead, so
// long DDL never blocks request traffic.
func main() {
	config.ConnectDatabaseWithRetry()
	if config.GetDB() == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}

	models.MigrateTable()
	fmt.Println("migrations complete")
}
