package main

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/hyperjump/kura/internal/cli"
	"github.com/hyperjump/kura/internal/models"
)

func newAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add [file|-]",
		Short: "Add a document",
		Long: `Add a document from --content, a file, or standard input ("-").
Files are run through the text extractor, so PDF and office formats work too.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runAdd,
	}
	cmd.Flags().String("content", "", "document text")
	cmd.Flags().String("id", "", "document id (generated when empty)")
	cmd.Flags().String("type", "", "document type metadata")
	cmd.Flags().String("silo", "", "silo type for cross-silo indexing")
	cmd.Flags().StringToString("meta", nil, "extra metadata as key=value (repeatable)")
	return cmd
}

func runAdd(cmd *cobra.Command, args []string) error {
	content, _ := cmd.Flags().GetString("content")
	id, _ := cmd.Flags().GetString("id")
	docType, _ := cmd.Flags().GetString("type")
	silo, _ := cmd.Flags().GetString("silo")
	raw, _ := cmd.Flags().GetStringToString("meta")

	metadata := parseMetadata(raw)
	if docType != "" {
		metadata[models.KeyType] = docType
	}

	var file string
	if len(args) == 1 {
		if content != "" {
			return errors.New("give either --content or a file, not both")
		}
		if args[0] == "-" {
			b, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return fmt.Errorf("reading stdin: %w", err)
			}
			content = string(b)
		} else {
			file = args[0]
		}
	}
	if file == "" && strings.TrimSpace(content) == "" {
		return errors.New("document content is empty")
	}
	if file != "" && id != "" {
		return errors.New("--id cannot be used with files; file documents are keyed by path")
	}

	ctx := commandContext(cmd)
	out := cmd.OutOrStdout()
	input := models.DocumentInput{ID: id, Content: content, Metadata: metadata, SiloType: silo}

	if c := remote(cmd); c != nil {
		if file != "" {
			return errors.New("adding files needs direct store access; use \"kura index\" on the server host")
		}
		var res struct {
			ID string `json:"id"`
		}
		if err := c.post(ctx, "/api/v1/documents", input, &res); err != nil {
			return err
		}
		_, err := fmt.Fprintf(out, "Document added: %s\n", res.ID)
		return err
	}

	s, err := openSession(cmd, false)
	if err != nil {
		return err
	}
	defer s.Close()

	if file != "" {
		id, err = s.app.Indexer.IndexFile(ctx, file, silo, metadata, nil)
	} else {
		id, err = s.app.Indexer.AddDocument(ctx, input)
	}
	if err != nil {
		return err
	}
	s.app.Indexer.Flush()
	_, err = fmt.Fprintf(out, "Document added: %s\n", id)
	return err
}

// parseMetadata turns key=value flags into typed metadata: booleans and numbers are
// recognized, everything else stays a string.
func parseMetadata(raw map[string]string) models.Metadata {
	m := models.Metadata{}
	for k, v := range raw {
		switch v {
		case "true":
			m[k] = true
			continue
		case "false":
			m[k] = false
			continue
		}
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			m[k] = n
		} else if f, err := strconv.ParseFloat(v, 64); err == nil {
			m[k] = f
		} else {
			m[k] = v
		}
	}
	return m
}

func newIndexCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index <file-or-directory>",
		Short: "Index a file or every matching file under a directory",
		Args:  cobra.ExactArgs(1),
		RunE:  runIndex,
	}
	cmd.Flags().String("silo", "", "silo type for every indexed file")
	return cmd
}

func runIndex(cmd *cobra.Command, args []string) error {
	silo, _ := cmd.Flags().GetString("silo")
	path := args[0]
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}

	s, err := openSession(cmd, false)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx := commandContext(cmd)
	out := cmd.OutOrStdout()
	if info.IsDir() {
		n, err := s.app.Indexer.IndexDirectory(ctx, path, silo, s.app.Config.Watch.Extensions)
		s.app.Indexer.Flush()
		if err != nil {
			return fmt.Errorf("indexing directory: %w", err)
		}
		_, err = fmt.Fprintf(out, "Indexed %d file(s) from %s\n", n, path)
		return err
	}
	id, err := s.app.Indexer.IndexFile(ctx, path, silo, nil, nil)
	if err != nil {
		return fmt.Errorf("indexing file: %w", err)
	}
	s.app.Indexer.Flush()
	_, err = fmt.Fprintf(out, "Document indexed: %s\n", id)
	return err
}

func newGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show a stored document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := outputFormat(cmd)
			if err != nil {
				return err
			}
			ctx := commandContext(cmd)
			if c := remote(cmd); c != nil {
				var doc models.Document
				if err := c.get(ctx, "/api/v1/documents/"+url.PathEscape(args[0]), &doc); err != nil {
					return err
				}
				return cli.WriteDocument(cmd.OutOrStdout(), &doc, format)
			}
			s, err := openSession(cmd, false)
			if err != nil {
				return err
			}
			defer s.Close()
			doc, err := s.app.Repo.Get(ctx, args[0])
			if err != nil {
				return err
			}
			return cli.WriteDocument(cmd.OutOrStdout(), doc, format)
		},
	}
}

func newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			id := args[0]
			if c := remote(cmd); c != nil {
				if err := c.delete(ctx, "/api/v1/documents/"+url.PathEscape(id), nil); err != nil {
					return err
				}
			} else {
				s, err := openSession(cmd, false)
				if err != nil {
					return err
				}
				defer s.Close()
				ok, err := s.app.Indexer.DeleteDocument(ctx, id)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("document not found: %s", id)
				}
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "Document deleted: %s\n", id)
			return err
		},
	}
}

func newRecordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "record <name> <record.yaml>",
		Short: "Store a structured record (description, categories, requirements...)",
		Long: `Store a structured record read from a YAML file. Storing the same name again
replaces the record.`,
		Args: cobra.ExactArgs(2),
		RunE: runRecord,
	}
}

func runRecord(cmd *cobra.Command, args []string) error {
	name := args[0]
	b, err := os.ReadFile(args[1])
	if err != nil {
		return err
	}
	var rec models.StructuredRecord
	if err := yaml.Unmarshal(b, &rec); err != nil {
		return fmt.Errorf("parsing record: %w", err)
	}

	ctx := commandContext(cmd)
	var id string
	if c := remote(cmd); c != nil {
		var res struct {
			ID string `json:"id"`
		}
		body := map[string]any{"name": name, "record": rec}
		if err := c.post(ctx, "/api/v1/records", body, &res); err != nil {
			return err
		}
		id = res.ID
	} else {
		s, err := openSession(cmd, false)
		if err != nil {
			return err
		}
		defer s.Close()
		if id, err = s.app.Repo.AddStructuredRecord(ctx, name, rec); err != nil {
			return err
		}
	}
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "Record stored: %s\n", id)
	return err
}

func newClearCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every document in the main collection",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if yes, _ := cmd.Flags().GetBool("yes"); !yes {
				return errors.New("refusing to clear without --yes")
			}
			ctx := commandContext(cmd)
			var deleted int64
			if c := remote(cmd); c != nil {
				var res struct {
					Deleted int64 `json:"deleted"`
				}
				if err := c.delete(ctx, "/api/v1/documents", &res); err != nil {
					return err
				}
				deleted = res.Deleted
			} else {
				s, err := openSession(cmd, false)
				if err != nil {
					return err
				}
				defer s.Close()
				if deleted, err = s.app.Repo.Clear(ctx); err != nil {
					return err
				}
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d document(s)\n", deleted)
			return err
		},
	}
	cmd.Flags().Bool("yes", false, "confirm deleting all documents")
	return cmd
}
