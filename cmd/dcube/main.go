// Command dcube loads a YAML cube schema and a JSON dataset, runs a one-shot aggregation query,
// and prints the resulting row tree.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/l7mp/dcube/pkg/cube"
	"github.com/l7mp/dcube/pkg/filter"
	"github.com/l7mp/dcube/pkg/schema"
	"github.com/l7mp/dcube/pkg/store"
)

var (
	version    = "dev"
	commitHash = "n/a"
	buildDate  = "<unknown>"
)

var (
	verbosity int
	logger    logr.Logger
)

var rootCmd = &cobra.Command{
	Use:          "dcube",
	Short:        "In-memory multidimensional aggregation engine",
	Version:      fmt.Sprintf("%s (%s, %s)", version, commitHash, buildDate),
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg := zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(zapcore.Level(-verbosity))
		cfg.EncoderConfig.EncodeTime = zapcore.RFC3339NanoTimeEncoder
		zl, err := cfg.Build()
		if err != nil {
			return err
		}
		logger = zapr.NewLogger(zl).WithName("dcube")
		return nil
	},
}

var (
	schemaFile    string
	dataFile      string
	dims          []string
	fields        []string
	filterExprs   []string
	includeRoot   bool
	includeLeaves bool
	omitRedundant bool
	asJSON        bool
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Run a one-shot aggregation query against a dataset",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := schema.LoadFile(schemaFile)
		if err != nil {
			return err
		}
		data, err := loadData(dataFile)
		if err != nil {
			return err
		}

		var filters []filter.Filter
		for _, expr := range filterExprs {
			f, err := parseFilter(expr)
			if err != nil {
				return err
			}
			filters = append(filters, f)
		}

		cfg.Data = data
		cfg.Logger = logger
		c, err := cube.New(cfg)
		if err != nil {
			return err
		}

		rows, err := c.ExecuteQuery(cube.QueryConfig{
			Fields:             fields,
			Dimensions:         dims,
			Filter:             filter.NewAnd(filters...),
			IncludeRoot:        includeRoot,
			IncludeLeaves:      includeLeaves,
			OmitRedundantNodes: omitRedundant,
		})
		if err != nil {
			return err
		}

		if asJSON {
			out, err := json.MarshalIndent(cube.PlainRows(rows), "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		}
		printRows(rows, 0)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().CountVarP(&verbosity, "verbose", "v",
		"increase log verbosity, may be repeated")

	queryCmd.Flags().StringVar(&schemaFile, "schema", "", "YAML cube schema file (required)")
	queryCmd.Flags().StringVar(&dataFile, "data", "", "JSON data file, an array of flat "+
		"objects (required)")
	queryCmd.Flags().StringSliceVar(&dims, "dims", nil, "dimension fields to group by, in order")
	queryCmd.Flags().StringSliceVar(&fields, "fields", nil, "fields to include, default all")
	queryCmd.Flags().StringArrayVar(&filterExprs, "filter", nil,
		"leaf filter, e.g. 'region=east' or 'amount>=10', may be repeated (AND)")
	queryCmd.Flags().BoolVar(&includeRoot, "include-root", false, "add a grand-total root row")
	queryCmd.Flags().BoolVar(&includeLeaves, "include-leaves", false, "expose leaf rows")
	queryCmd.Flags().BoolVar(&omitRedundant, "omit-redundant", false,
		"collapse redundant single-child rows")
	queryCmd.Flags().BoolVar(&asJSON, "json", false, "print the row tree as JSON")
	_ = queryCmd.MarkFlagRequired("schema")
	_ = queryCmd.MarkFlagRequired("data")

	rootCmd.AddCommand(queryCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadData(path string) ([]store.RawData, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read data file: %w", err)
	}
	var data []store.RawData
	if err := json.Unmarshal(buf, &data); err != nil {
		return nil, fmt.Errorf("failed to parse data file: %w", err)
	}
	return data, nil
}

// filterOps maps CLI comparison tokens to filter operators, longest token first so that ">="
// wins over ">".
var filterOps = []struct {
	token string
	op    filter.Op
}{
	{"!=", filter.OpNotEquals},
	{">=", filter.OpGte},
	{"<=", filter.OpLte},
	{"=", filter.OpEquals},
	{">", filter.OpGt},
	{"<", filter.OpLt},
	{"~", filter.OpLike},
}

func parseFilter(expr string) (filter.Filter, error) {
	for _, it := range filterOps {
		idx := strings.Index(expr, it.token)
		if idx <= 0 {
			continue
		}
		name := strings.TrimSpace(expr[:idx])
		rest := strings.TrimSpace(expr[idx+len(it.token):])
		var values []any
		for _, v := range strings.Split(rest, ",") {
			values = append(values, strings.TrimSpace(v))
		}
		return filter.NewFieldFilter(name, it.op, values...)
	}
	return nil, fmt.Errorf("cannot parse filter %q, expected <field><op><value>", expr)
}

func printRows(rows []cube.RowData, depth int) {
	for _, row := range rows {
		label, _ := row["cubeLabel"].(string)
		fmt.Printf("%s%s%s\n", strings.Repeat("  ", depth), label, rowValues(row))
		if kids, ok := row["children"].([]cube.RowData); ok {
			printRows(kids, depth+1)
		}
	}
}

// rowValues renders the non-bookkeeping values of a row, sorted by field name.
func rowValues(row cube.RowData) string {
	var names []string
	for name := range row {
		switch name {
		case "id", "_meta", "children", "buckets", "locked",
			"cubeLabel", "cubeDimension", "cubeRowType":
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		if row[name] == nil {
			continue
		}
		fmt.Fprintf(&b, "  %s=%v", name, row[name])
	}
	return b.String()
}
