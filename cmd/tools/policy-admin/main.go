// cmd/tools/policy-admin/main.go
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"placement-mailer/internal/common/config"
	"placement-mailer/internal/common/database"
	"placement-mailer/internal/common/errors"
	"placement-mailer/internal/common/logger"
	"placement-mailer/internal/models"
	"placement-mailer/internal/store"
)

func main() {
	listCmd := flag.NewFlagSet("list", flag.ExitOnError)
	getCmd := flag.NewFlagSet("get", flag.ExitOnError)
	setCmd := flag.NewFlagSet("set", flag.ExitOnError)
	historyCmd := flag.NewFlagSet("history", flag.ExitOnError)

	// Get command flags
	typeGet := getCmd.String("type", "", "Fact type (SHORTLIST, COMPANY, CONTENT, PREP)")

	// Set command flags
	typeSet := setCmd.String("type", "", "Fact type to update")
	sendEmail := setCmd.String("send", "", "Enable email delivery (true/false)")
	delay := setCmd.String("delay", "", "Delay hint in minutes")
	onlyTarget := setCmd.String("only-target", "", "Deliver only to the fact's target audience (true/false)")
	role := setCmd.String("role", "", "Recipient role when only-target is false")
	clearRole := setCmd.Bool("clear-role", false, "Remove the recipient role")

	// History command flags
	person := historyCmd.String("person", "", "Person ID")
	size := historyCmd.Int("size", 20, "Maximum announcements to show")

	if len(os.Args) < 2 {
		help()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "list", "get", "set", "history":
	default:
		help()
		return
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	pg, err := database.NewPostgres(cfg.Database.Postgres)
	if err != nil {
		fmt.Printf("Error connecting to postgres: %v\n", err)
		os.Exit(1)
	}
	defer pg.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	policies := store.NewPolicyStore(pg.GetDB(), logger.NewNoOpLogger())

	switch os.Args[1] {
	case "list":
		listCmd.Parse(os.Args[2:])
		list, err := policies.List(ctx)
		if err != nil {
			exit("Error listing policies", err)
		}
		for _, p := range list {
			printPolicy(&p)
		}
		fmt.Printf("%d policies.\n", len(list))

	case "get":
		getCmd.Parse(os.Args[2:])
		if *typeGet == "" {
			fmt.Println("Error: type is required for get.")
			getCmd.Usage()
			os.Exit(1)
		}
		t := models.FactType(strings.ToUpper(*typeGet))
		policy, err := policies.Get(ctx, t)
		if err != nil {
			exit("Error reading policy", err)
		}
		if policy == nil {
			exit("Error reading policy", errors.NewResourceNotFoundError("delivery_policies", string(t)))
		}
		printPolicy(policy)

	case "set":
		setCmd.Parse(os.Args[2:])
		if *typeSet == "" {
			fmt.Println("Error: type is required for set.")
			setCmd.Usage()
			os.Exit(1)
		}
		update, err := buildUpdate(*sendEmail, *delay, *onlyTarget, *role, *clearRole)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			setCmd.Usage()
			os.Exit(1)
		}
		policy, err := policies.Upsert(ctx, models.FactType(strings.ToUpper(*typeSet)), update)
		if err != nil {
			exit("Error updating policy", err)
		}
		fmt.Println("Updated policy:")
		printPolicy(policy)

	case "history":
		historyCmd.Parse(os.Args[2:])
		if *person == "" {
			fmt.Println("Error: person is required for history.")
			historyCmd.Usage()
			os.Exit(1)
		}
		if !cfg.Database.Elasticsearch.Enabled() {
			exit("Error reading history", fmt.Errorf("database.elasticsearch.addresses is not configured"))
		}
		es, err := database.NewElasticsearch(cfg.Database.Elasticsearch)
		if err != nil {
			exit("Error connecting to elasticsearch", err)
		}
		index := store.NewAnnouncementIndex(es.Client, cfg.Database.Elasticsearch.AnnouncementIdx)
		found, err := index.SearchByPerson(ctx, *person, *size)
		if err != nil {
			exit("Error searching announcements", err)
		}
		data, _ := json.MarshalIndent(found, "", "  ")
		fmt.Println(string(data))
	}
}

// buildUpdate turns the set flags into a PolicyUpdate. Empty flags leave the
// field unchanged.
func buildUpdate(send, delay, onlyTarget, role string, clearRole bool) (models.PolicyUpdate, error) {
	var update models.PolicyUpdate

	if send != "" {
		v, err := strconv.ParseBool(send)
		if err != nil {
			return update, fmt.Errorf("invalid send value: %w", err)
		}
		update.SendEmail = &v
	}
	if delay != "" {
		v, err := strconv.Atoi(delay)
		if err != nil {
			return update, fmt.Errorf("invalid delay value: %w", err)
		}
		if v < 0 {
			return update, fmt.Errorf("delay must not be negative")
		}
		update.DelayMinutes = &v
	}
	if onlyTarget != "" {
		v, err := strconv.ParseBool(onlyTarget)
		if err != nil {
			return update, fmt.Errorf("invalid only-target value: %w", err)
		}
		update.OnlyForTarget = &v
	}
	if clearRole && role != "" {
		return update, fmt.Errorf("role and clear-role are mutually exclusive")
	}
	if role != "" {
		update.Role = &role
	}
	update.ClearRole = clearRole

	return update, nil
}

func printPolicy(p *models.DeliveryPolicy) {
	role := "-"
	if p.Role != nil {
		role = *p.Role
	}
	fmt.Printf("%-10s send=%-5t delay=%-4d only_target=%-5t role=%s updated=%s\n",
		p.Type, p.SendEmail, p.DelayMinutes, p.OnlyForTarget, role, p.UpdatedAt.Format(time.RFC3339))
}

func exit(msg string, err error) {
	fmt.Printf("%s: %v\n", msg, err)
	os.Exit(1)
}

func help() {
	fmt.Print(`
Usage: policy-admin <command> [flags]

Commands:
  list     List every delivery policy
  get      Show the policy of one fact type
  set      Create or update the policy of one fact type
  history  Show the announcements recorded for a person
  help     Show this help message

Examples:
  policy-admin get -type CONTENT
  policy-admin set -type SHORTLIST -send true -only-target true
  policy-admin set -type COMPANY -send true -only-target false -role student
  policy-admin history -person 42 -size 10

Use 'policy-admin <command> -h' for more information about a command.

`)
}
