package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/harrylevesque/equipscan/internal/client"
	"github.com/harrylevesque/equipscan/internal/models"
)

// Default server base URL; can override with EQUIPSCAN_SERVER env var or --server flag.
var serverBaseURL = client.DefaultServer

func main() {
	cmd := flag.String("cmd", "list", "Command: lookup|borrow|return|label|list|loans|create|assign|unassign|lost|found|retire|maintenance-start|maintenance-complete")
	code := flag.String("code", "", "Barcode (for lookup, borrow, return, label)")
	id := flag.String("id", "", "Equipment ID (instead of -code)")
	name := flag.String("name", "", "Equipment name (for create)")
	category := flag.String("category", "", "Category (for create)")
	holderType := flag.String("holder-type", "employee", "Holder type for assign: employee|department|other")
	holder := flag.String("holder", "", "Holder name (for assign)")
	format := flag.String("format", "qr", "Label format: qr|code128")
	size := flag.Int("size", 0, "Label width in pixels")
	out := flag.String("out", "", "Label output file (default <barcode>.png)")
	token := flag.String("token", os.Getenv("EQUIPSCAN_TOKEN"), "API token")
	serverFlag := flag.String("server", "", "Override server base URL (e.g. https://scan.example.com)")
	flag.Parse()
	if env := os.Getenv("EQUIPSCAN_SERVER"); env != "" {
		serverBaseURL = strings.TrimRight(env, "/")
	}
	if *serverFlag != "" {
		serverBaseURL = strings.TrimRight(*serverFlag, "/")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	c := client.New(serverBaseURL, *token)

	var err error
	switch *cmd {
	case "list":
		err = list(ctx, c)
	case "lookup":
		err = lookup(ctx, c, *code)
	case "borrow", "return":
		err = act(ctx, c, *cmd, *id, *code)
	case "loans":
		err = loans(ctx, c, *id, *code)
	case "label":
		err = label(ctx, c, *id, *code, *format, *size, *out)
	case "create":
		err = create(ctx, c, *name, *code, *category)
	case "assign":
		err = assign(ctx, c, *id, *code, models.HolderType(*holderType), *holder)
	case "unassign", "lost", "found", "retire", "maintenance-start", "maintenance-complete":
		err = transition(ctx, c, strings.Replace(*cmd, "-", "/", 1), *id, *code)
	default:
		err = fmt.Errorf("unknown command %q", *cmd)
	}
	if err != nil {
		fmt.Println("Error:", err)
		os.Exit(1)
	}
}

// ===== Commands =====

func list(ctx context.Context, c *client.Client) error {
	items, err := c.List(ctx)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "BARCODE\tNAME\tSTATE\tCATEGORY\tCUSTODIAN")
	for _, e := range items {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", e.Barcode, e.Name, e.State, e.Category, e.Custodian)
	}
	return tw.Flush()
}

func lookup(ctx context.Context, c *client.Client, code string) error {
	if code == "" {
		return fmt.Errorf("--code required")
	}
	res, err := c.Lookup(ctx, models.LookupQuery{Code: code, Fields: models.LookupFields, Limit: 1})
	if err != nil {
		return err
	}
	if !res.Found {
		fmt.Println("No equipment found with barcode:", code)
		return nil
	}
	return printJSON(res.Record)
}

func act(ctx context.Context, c *client.Client, name, id, code string) error {
	id, err := resolveID(ctx, c, id, code)
	if err != nil {
		return err
	}
	call := c.Borrow
	if name == "return" {
		call = c.Return
	}
	action, err := call(ctx, id)
	if err != nil {
		return err
	}
	fmt.Printf("%s ok\n", name)
	if action != nil {
		return printJSON(action)
	}
	return nil
}

func assign(ctx context.Context, c *client.Client, id, code string, ht models.HolderType, holder string) error {
	id, err := resolveID(ctx, c, id, code)
	if err != nil {
		return err
	}
	e, err := c.Assign(ctx, id, ht, holder)
	if err != nil {
		return err
	}
	fmt.Printf("%s is now %s (%s %s)\n", e.Name, e.State, e.HolderType, e.Holder)
	return nil
}

func transition(ctx context.Context, c *client.Client, route, id, code string) error {
	id, err := resolveID(ctx, c, id, code)
	if err != nil {
		return err
	}
	e, err := c.Transition(ctx, id, route)
	if err != nil {
		return err
	}
	fmt.Printf("%s is now %s\n", e.Name, e.State)
	return nil
}

func loans(ctx context.Context, c *client.Client, id, code string) error {
	id, err := resolveID(ctx, c, id, code)
	if err != nil {
		return err
	}
	ls, err := c.Loans(ctx, id)
	if err != nil {
		return err
	}
	return printJSON(ls)
}

func label(ctx context.Context, c *client.Client, id, code, format string, size int, out string) error {
	id, err := resolveID(ctx, c, id, code)
	if err != nil {
		return err
	}
	data, err := c.Label(ctx, id, format, size)
	if err != nil {
		return err
	}
	if out == "" {
		out = strings.NewReplacer("/", "_", " ", "_").Replace(firstNonEmpty(code, id)) + ".png"
	}
	if err := os.WriteFile(out, data, 0644); err != nil {
		return err
	}
	fmt.Println("Label written to", out)
	return nil
}

func create(ctx context.Context, c *client.Client, name, code, category string) error {
	if name == "" {
		return fmt.Errorf("--name required")
	}
	e, err := c.Create(ctx, &models.Equipment{Name: name, Barcode: code, Category: category})
	if err != nil {
		return err
	}
	fmt.Printf("Created %s (%s)\n", e.Name, e.Barcode)
	return nil
}

// ===== Helpers =====

// resolveID returns id, or looks code up to find it.
func resolveID(ctx context.Context, c *client.Client, id, code string) (string, error) {
	if id != "" {
		return id, nil
	}
	if code == "" {
		return "", fmt.Errorf("--id or --code required")
	}
	res, err := c.Lookup(ctx, models.LookupQuery{Code: code, Fields: []string{"id"}, Limit: 1})
	if err != nil {
		return "", err
	}
	if !res.Found {
		return "", fmt.Errorf("no equipment found with barcode: %s", code)
	}
	return res.Record.ID, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
