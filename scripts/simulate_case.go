package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/aura/underwriting/pkg/sdk"
)

// Drives one underwriting through Workflow 1 against a running API and
// prints the consolidated factors. Run `go run ./cmd/seed` first for a
// fixture case.
func main() {
	apiURL := flag.String("api", "http://localhost:8080", "underwriting API base URL")
	caseID := flag.String("underwriting", "22222222-2222-4222-8222-222222222201", "underwriting id to process")
	flag.Parse()

	client := sdk.NewClient(sdk.Config{
		BaseURL: *apiURL,
		Timeout: 10 * time.Second,
	})
	ctx := context.Background()

	fmt.Println("🤖 Case Simulation Starting")

	health, err := client.Health(ctx)
	if err != nil {
		log.Fatalf("❌ API unreachable: %v", err)
	}
	fmt.Printf("📡 API %s (postgres=%s redis=%s)\n", health.Status, health.Postgres, health.Redis)

	uw, err := client.GetUnderwriting(ctx, *caseID)
	if err != nil {
		log.Fatalf("❌ Underwriting lookup failed: %v", err)
	}
	fmt.Printf("📋 Case %s — %s (%d owners, %d documents)\n",
		uw.SerialNumber, uw.Merchant.Name, len(uw.Owners), len(uw.Documents))

	ack, err := client.ProcessUnderwriting(ctx, *caseID)
	if err != nil {
		log.Fatalf("❌ Trigger failed: %v", err)
	}
	fmt.Printf("🚀 Workflow 1 %s on %s\n", ack.Status, ack.Topic)

	// The workflow runs asynchronously; poll until factors land.
	fmt.Println("⏳ Waiting for consolidation...")
	var factors *sdk.FactorList
	deadline := time.Now().Add(60 * time.Second)
	for {
		factors, err = client.ListFactors(ctx, *caseID)
		if err != nil {
			log.Fatalf("❌ Factor poll failed: %v", err)
		}
		if factors.Count > 0 || time.Now().After(deadline) {
			break
		}
		time.Sleep(2 * time.Second)
	}
	if factors.Count == 0 {
		log.Fatalf("❌ No factors after 60s; check the orchestrator logs")
	}

	fmt.Printf("\n✅ %d factors consolidated:\n", factors.Count)
	for _, f := range factors.Factors {
		fmt.Printf("   %-32s = %v\n", f.Key, f.Value)
	}

	execs, err := client.ListExecutions(ctx, *caseID)
	if err != nil {
		log.Fatalf("❌ Execution list failed: %v", err)
	}
	fmt.Printf("\n🧾 %d executions recorded:\n", execs.Count)
	for _, e := range execs.Executions {
		status := e.Status
		if e.FailedReason != "" {
			status += " (" + e.FailedReason + ")"
		}
		fmt.Printf("   %s  %-32s %s\n", e.ID, e.Processor, status)
	}
}
