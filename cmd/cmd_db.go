package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/spf13/cobra"

	"github.com/qbloq/livesql/core"
	"github.com/qbloq/livesql/serv"
)

var seedCount int

func dbCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "db",
		Short: "Database setup and seeding",
	}

	c.AddCommand(&cobra.Command{
		Use:   "setup",
		Short: "Create the configured tables",
		Run:   cmdDBSetup,
	})

	seed := &cobra.Command{
		Use:   "seed",
		Short: "Insert fake rows into the configured tables",
		Run:   cmdDBSeed,
	}
	seed.Flags().IntVar(&seedCount, "count", 25, "rows to insert per table")
	c.AddCommand(seed)

	return c
}

// cmdDBSetup creates one table per configured name with the example shape
// (id, title, content). Real deployments own their schema and migrations;
// this exists so the demo works out of the box.
func cmdDBSetup(cmd *cobra.Command, args []string) {
	setup(cpath)

	db, err := serv.NewDB(conf, log)
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close() //nolint:errcheck

	var idCol string
	switch conf.DB.Type {
	case "postgres":
		idCol = "id BIGSERIAL PRIMARY KEY"
	case "mysql":
		idCol = "id BIGINT AUTO_INCREMENT PRIMARY KEY"
	default:
		idCol = "id INTEGER PRIMARY KEY"
	}

	for _, t := range conf.TableNames {
		stmt := fmt.Sprintf(
			`CREATE TABLE IF NOT EXISTS %s (%s, title TEXT NOT NULL, content TEXT NOT NULL DEFAULT '')`,
			t, idCol)
		if _, err := db.Exec(stmt); err != nil {
			log.Fatalf("creating table %s: %s", t, err)
		}
		log.Infof("table %s ready", t)
	}
}

// cmdDBSeed inserts fake rows through the engine's own write path. The
// engine is created by this command and has no subscribers, so clients of a
// separately running service are not notified of the seeded rows.
func cmdDBSeed(cmd *cobra.Command, args []string) {
	setup(cpath)

	s, err := serv.NewService(conf)
	if err != nil {
		log.Fatal(err)
	}

	for _, t := range conf.TableNames {
		rows := make([]map[string]interface{}, seedCount)
		for i := range rows {
			rows[i] = map[string]interface{}{
				"title":   gofakeit.Sentence(3),
				"content": gofakeit.Paragraph(1, 2, 8, " "),
			}
		}

		b, err := json.Marshal(map[string]interface{}{
			"type": "create_many", "table": t, "data": rows,
		})
		if err != nil {
			log.Fatal(err)
		}

		var op core.GranularOperation
		if err := json.Unmarshal(b, &op); err != nil {
			log.Fatal(err)
		}
		if err := s.Engine().Execute(context.Background(), &op); err != nil {
			log.Fatalf("seeding %s: %s", t, err)
		}
		log.Infof("seeded %d rows into %s", seedCount, t)
	}
}
