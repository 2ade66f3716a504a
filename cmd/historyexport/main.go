package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/rs/zerolog"

	"github.com/cristianemoyano/cloudnap/history"
)

// actionRow is the BigQuery shape of one audit entry.
type actionRow struct {
	Timestamp time.Time `bigquery:"timestamp"`
	Cluster   string    `bigquery:"cluster_name"`
	Action    string    `bigquery:"action"`
	Outcome   string    `bigquery:"outcome"`
	Message   string    `bigquery:"message"`
}

func main() {
	var (
		region    = flag.String("region", "", "AWS region of the history table")
		table     = flag.String("table", history.DefaultTableName, "DynamoDB table holding the action history")
		projectID = flag.String("project", "", "BigQuery project ID")
		datasetID = flag.String("dataset", "cloudnap", "BigQuery dataset ID")
		tableID   = flag.String("bqTable", "action_history", "BigQuery table ID")
		days      = flag.Int("days", 30, "How many days of history to export")
	)
	flag.Parse()

	if *projectID == "" {
		log.Fatal("missing required flag: -project")
	}

	ctx := context.Background()

	awsSession, err := session.NewSessionWithOptions(session.Options{
		SharedConfigState: session.SharedConfigEnable,
		Config:            aws.Config{Region: aws.String(*region)},
	})
	if err != nil {
		log.Fatalf("Failed to create AWS session: %v", err)
	}

	logger := zerolog.Nop()
	store, err := history.NewDynamoDB(ctx, &logger, awsSession, *region, *table)
	if err != nil {
		log.Fatalf("Failed to open action history: %v", err)
	}

	since := time.Now().UTC().AddDate(0, 0, -*days)
	entries, err := store.Recent(ctx, since)
	if err != nil {
		log.Fatalf("Failed to read action history: %v", err)
	}
	if len(entries) == 0 {
		fmt.Println("No history entries to export.")
		return
	}

	rows := make([]actionRow, 0, len(entries))
	for _, e := range entries {
		ts, err := time.Parse(time.RFC3339, e.Timestamp)
		if err != nil {
			log.Printf("Skipping entry with bad timestamp %q: %v", e.Timestamp, err)
			continue
		}
		rows = append(rows, actionRow{
			Timestamp: ts,
			Cluster:   e.Cluster,
			Action:    e.Action,
			Outcome:   string(e.Outcome),
			Message:   e.Message,
		})
	}

	client, err := bigquery.NewClient(ctx, *projectID)
	if err != nil {
		log.Fatalf("Failed to create BigQuery client: %v", err)
	}
	defer func() {
		if err := client.Close(); err != nil {
			log.Printf("Failed to close BigQuery client: %v", err)
		}
	}()

	inserter := client.Dataset(*datasetID).Table(*tableID).Inserter()
	inserter.SkipInvalidRows = true
	inserter.IgnoreUnknownValues = true

	if err := inserter.Put(ctx, rows); err != nil {
		log.Fatalf("Failed to insert data into BigQuery: %v", err)
	}

	fmt.Printf("Exported %d action history entries.\n", len(rows))
}
