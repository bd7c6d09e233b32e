package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"slices"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/treeindex/internal/bootstrap"
	"github.com/Adithya-Monish-Kumar-K/treeindex/internal/document"
	"github.com/Adithya-Monish-Kumar-K/treeindex/internal/indexer/session"
	"github.com/Adithya-Monish-Kumar-K/treeindex/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/treeindex/internal/ingestion/validator"
	"github.com/Adithya-Monish-Kumar-K/treeindex/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/treeindex/internal/searcher/query"
	"github.com/Adithya-Monish-Kumar-K/treeindex/internal/store"
	"github.com/Adithya-Monish-Kumar-K/treeindex/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/treeindex/pkg/logger"
)

type rootOptions struct {
	configPath string
	dataDir    string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "treectl",
		Short:         "Index and query a tree index data directory",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to config file")
	root.PersistentFlags().StringVar(&opts.dataDir, "data-dir", "", "data directory, overrides the config")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "log level")

	root.AddCommand(newIndexCmd(opts), newSearchCmd(opts), newInspectCmd(opts))
	return root
}

func (o *rootOptions) load() (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.dataDir != "" {
		cfg.Storage.DataDir = o.dataDir
	}
	cfg.Postings.Endpoint = ""
	slog.SetDefault(logger.New(os.Stderr, o.logLevel, "text"))
	return cfg, nil
}

func newIndexCmd(opts *rootOptions) *cobra.Command {
	var workers int
	cmd := &cobra.Command{
		Use:   "index <collection> <file|->",
		Short: "Index a JSON array of documents in one session",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			collection := args[0]
			docs, err := readDocuments(cmd.InOrStdin(), args[1])
			if err != nil {
				return err
			}
			if err := validator.ValidateWrite(collection, docs); err != nil {
				return err
			}

			ctx := cmd.Context()
			storage, err := bootstrap.Open(ctx, cfg, nil)
			if err != nil {
				return err
			}
			defer storage.Close()

			var result session.Result
			s, err := session.New(ctx, store.CollectionID(collection), storage.Factory, tokenizer.Standard{}, session.Options{
				Workers:   max(workers, cfg.Indexer.BuildWorkers),
				QueueSize: cfg.Indexer.QueueSize,
				Listeners: []session.Listener{func(_ context.Context, r session.Result) { result = r }},
			})
			if err != nil {
				return err
			}
			if err := s.WriteDocuments(ctx, docs...); err != nil {
				s.Close(ctx)
				return err
			}
			if err := s.Close(ctx); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "indexed %d documents into %s as version %d (%d trees, %d nodes) in %s\n",
				result.Documents, collection, result.Version, len(result.Keys), result.Nodes, result.Elapsed)
			return nil
		},
	}
	cmd.Flags().IntVar(&workers, "workers", 0, "build workers, defaults to the config")
	return cmd
}

func readDocuments(stdin io.Reader, name string) ([]document.Document, error) {
	r := stdin
	if name != "-" {
		f, err := os.Open(name)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}
	var docs []document.Document
	if err := json.NewDecoder(r).Decode(&docs); err != nil {
		return nil, fmt.Errorf("decoding documents from %s: %w", name, err)
	}
	return docs, nil
}

func newSearchCmd(opts *rootOptions) *cobra.Command {
	var (
		fields []string
		format string
		take   int
		fuzzy  float64
	)
	cmd := &cobra.Command{
		Use:   "search <collection> <q>",
		Short: "Run a query and print the matching documents as JSON lines",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			storage, err := bootstrap.Open(ctx, cfg, nil)
			if err != nil {
				return err
			}
			defer storage.Close()

			params := url.Values{"q": {args[1]}, "take": {strconv.Itoa(take)}}
			if format != "" {
				params.Set("format", format)
			}
			params["fields"] = fields
			if len(fields) == 0 {
				params["fields"] = cfg.Search.DefaultFields
			}
			q, err := query.NewHTTPParser(query.NewParser(tokenizer.Standard{}), cfg.Search.DefaultFields).
				Parse(store.CollectionID(args[0]), params)
			if err != nil {
				return err
			}
			if fuzzy == 0 {
				fuzzy = cfg.Search.FuzzyThreshold
			}
			result, err := executor.New(storage.Factory, executor.Options{FuzzyThreshold: fuzzy}).Execute(ctx, q)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			for _, d := range result.Documents {
				if err := enc.Encode(d); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "%d of %d documents\n", len(result.Documents), result.Total)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&fields, "fields", nil, "fields to search, defaults to the config")
	cmd.Flags().StringVar(&format, "format", "", "query template with {0} standing for q")
	cmd.Flags().IntVar(&take, "take", 10, "maximum documents to print")
	cmd.Flags().Float64Var(&fuzzy, "fuzzy", 0, "fuzzy match threshold in (0,1]")
	return cmd
}

func newInspectCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <collection>",
		Short: "Print the size and depth of every tree of a collection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			storage, err := bootstrap.Open(cmd.Context(), cfg, nil)
			if err != nil {
				return err
			}
			defer storage.Close()

			collectionID := store.CollectionID(args[0])
			index := storage.Tree.GetIndex(collectionID)
			if index == nil {
				return fmt.Errorf("collection %q has no trees in %s", args[0], cfg.Storage.DataDir)
			}
			c, err := storage.Factory.Collection(collectionID)
			if err != nil {
				return err
			}
			keyIDs := make([]int64, 0, len(index))
			for keyID := range index {
				keyIDs = append(keyIDs, keyID)
			}
			slices.Sort(keyIDs)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "collection %s (%d)\n", args[0], collectionID)
			for _, keyID := range keyIDs {
				root := index[keyID]
				key, _ := c.Keys().Key(keyID)
				fmt.Fprintf(out, "  %-20s key=%d nodes=%d depth=%d\n", key, keyID, root.Count(), root.Depth())
			}
			return nil
		},
	}
}
