package main

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/taxonium/usher2taxonium/internal/pipeline"
)

func (a *app) newConvertCmd() *cobra.Command {
	var (
		input    string
		output   string
		metadata string
		genbank  string
	)

	cmd := &cobra.Command{
		Use:   "convert",
		Short: "Convert an UShER protobuf to Taxonium JSONL",
		Example: `  usher2taxonium convert -i public.all.masked.pb.gz -o tree.jsonl.gz
  usher2taxonium convert -i tree.pb -o tree.jsonl.gz -m metadata.tsv.gz -c country,date -g hu1.gb
  usher2taxonium convert -i tree.pb -o tree.jsonl --duckdb runs.duckdb --replace-run`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if input == "" {
				return fmt.Errorf("%w: --input is required", errUsage)
			}
			if output == "" {
				return fmt.Errorf("%w: --output is required", errUsage)
			}

			opts := pipeline.Options{
				Input:             input,
				Output:            output,
				Metadata:          metadata,
				Columns:           viper.GetStringSlice(columnsKey),
				KeyColumn:         viper.GetString(keyColumnKey),
				GenBank:           genbank,
				CladeTypes:        viper.GetStringSlice(cladeTypesKey),
				NameInternalNodes: viper.GetBool(nameNodesKey),
				Ascending:         viper.GetBool(ascendingKey),
				HeaderConfig:      viper.GetString(headerCfgKey),
				MutationsTSV:      viper.GetString(mutationsTSVKey),
				DuckDB:            viper.GetString(duckdbKey),
				ReplaceRun:        viper.GetBool(replaceRunKey),
				Workers:           viper.GetInt(workersKey),
				ChunkSize:         viper.GetInt(chunkSizeKey),
			}

			sum, err := pipeline.Run(cmd.Context(), opts, a.logger)
			if err != nil {
				return err
			}
			renderSummary(a.stderr, output, sum)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVarP(&input, "input", "i", "", "input UShER protobuf (.pb or .pb.gz)")
	f.StringVarP(&output, "output", "o", "", "output Taxonium JSONL (.jsonl or .jsonl.gz)")
	f.StringVarP(&metadata, "metadata", "m", "", "metadata table (.tsv, .csv, optionally gzipped)")
	f.StringVarP(&genbank, "genbank", "g", "", "GenBank reference used for amino acid annotation")

	f.StringSliceP("columns", "c", nil, "comma-separated metadata columns to include (default: all)")
	bindFlagToConfig(f.Lookup("columns"), columnsKey)
	f.String("key-column", "", "metadata column holding node names (default: strain)")
	bindFlagToConfig(f.Lookup("key-column"), keyColumnKey)
	f.StringSlice("clade-types", nil, "names of the clade annotation slots, e.g. nextstrain,pango")
	bindFlagToConfig(f.Lookup("clade-types"), cladeTypesKey)
	f.Bool("name-internal-nodes", false, "name unnamed internal nodes internal_<n>")
	bindFlagToConfig(f.Lookup("name-internal-nodes"), nameNodesKey)
	f.Bool("ascending", false, "ladderize smaller clades first")
	bindFlagToConfig(f.Lookup("ascending"), ascendingKey)
	f.StringP("config-json", "j", "", "JSON object merged into the header config")
	bindFlagToConfig(f.Lookup("config-json"), headerCfgKey)
	f.String("mutations-tsv", "", "also write the mutation catalog as TSV")
	bindFlagToConfig(f.Lookup("mutations-tsv"), mutationsTSVKey)
	f.String("duckdb", "", "also export nodes, mutations and metadata to this DuckDB file")
	bindFlagToConfig(f.Lookup("duckdb"), duckdbKey)
	f.Bool("replace-run", false, "delete the previous DuckDB run of the same input first")
	bindFlagToConfig(f.Lookup("replace-run"), replaceRunKey)
	f.IntP("workers", "w", 0, "worker goroutines (default: number of CPUs)")
	bindFlagToConfig(f.Lookup("workers"), workersKey)
	f.Int("chunk-size", 0, "nodes encoded per work item")
	bindFlagToConfig(f.Lookup("chunk-size"), chunkSizeKey)

	return cmd
}

func renderSummary(w io.Writer, output string, s *pipeline.Summary) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Item", "Count"})
	table.SetAutoFormatHeaders(false)
	table.SetBorder(false)
	table.SetCenterSeparator("")
	table.SetColumnAlignment([]int{tablewriter.ALIGN_LEFT, tablewriter.ALIGN_RIGHT})

	add := func(name string, n int) {
		table.Append([]string{name, strconv.Itoa(n)})
	}
	add("Nodes", s.Nodes)
	add("Tips", s.Tips)
	add("Nucleotide mutations", s.Mutations)
	if s.CondensedNodes > 0 {
		add("Condensed nodes", s.CondensedNodes)
		add("Expanded leaves", s.ExpandedLeaves)
	}
	if s.NamedInternal > 0 {
		add("Named internal nodes", s.NamedInternal)
	}
	if s.MetadataRows > 0 {
		add("Metadata rows", s.MetadataRows)
		add("Metadata matched", s.MetadataMatched)
	}
	if s.Genes > 0 {
		add("Genes", s.Genes)
		add("Gene mismatches", s.GeneMismatches)
		add("AA mutations", s.AAMutations)
	}
	add("Catalog entries", s.CatalogEntries)
	if s.RunID != "" {
		table.Append([]string{"DuckDB run", s.RunID})
	}

	table.SetFooter([]string{output, s.Elapsed.Round(time.Millisecond).String()})
	table.Render()
}
