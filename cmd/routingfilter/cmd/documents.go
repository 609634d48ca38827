package cmd

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/solatis/routingfilter/internal/core/db"
	"github.com/solatis/routingfilter/internal/source"
	"github.com/spf13/cobra"
)

var documentsCmd = &cobra.Command{
	Use:   "documents",
	Short: "Manage rule documents stored in the database",
}

var documentsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored rule documents",
	Args:  cobra.NoArgs,
	RunE:  runDocumentsList,
}

var documentsShowCmd = &cobra.Command{
	Use:   "show NAME",
	Short: "Print one stored rule document",
	Args:  cobra.ExactArgs(1),
	RunE:  runDocumentsShow,
}

var documentsImportCmd = &cobra.Command{
	Use:   "import PATH...",
	Short: "Store rule files in the database",
	Long: `Stores every rule document found in the given files and directories.
A file holding one document is stored under its path; a file holding
several is stored as PATH#1, PATH#2, ... Importing a name again replaces it.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runDocumentsImport,
}

var documentsDeleteCmd = &cobra.Command{
	Use:   "delete NAME...",
	Short: "Delete stored rule documents",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runDocumentsDelete,
}

func init() {
	rootCmd.AddCommand(documentsCmd)
	documentsCmd.AddCommand(documentsListCmd, documentsShowCmd, documentsImportCmd, documentsDeleteCmd)
	documentsImportCmd.Flags().String("variables", "", "variables file to store alongside the documents")
}

func openStore(cmd *cobra.Command) (*db.Store, func(), error) {
	_, database, logger, err := openDatabase(cmd)
	if err != nil {
		return nil, nil, err
	}
	store, err := db.NewStore(database, nil)
	if err != nil {
		database.Close()
		return nil, nil, err
	}
	return store, func() {
		logger.Sync()
		database.Close()
	}, nil
}

func runDocumentsList(cmd *cobra.Command, args []string) error {
	store, done, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer done()

	rows, err := store.Documents(cmd.Context())
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tID\tUPDATED")
	for _, row := range rows {
		fmt.Fprintf(w, "%s\t%s\t%s\n", row.Name, row.ID, row.UpdatedAt)
	}
	return w.Flush()
}

func runDocumentsShow(cmd *cobra.Command, args []string) error {
	store, done, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer done()

	row, err := store.Document(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	doc, err := row.Decode()
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

func runDocumentsImport(cmd *cobra.Command, args []string) error {
	store, done, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer done()
	ctx := cmd.Context()

	files, err := ruleFiles(args)
	if err != nil {
		return err
	}

	imported := 0
	for _, path := range files {
		docs, err := source.ReadDocuments(path)
		if err != nil {
			return err
		}
		for i, doc := range docs {
			name := path
			if len(docs) > 1 {
				name = fmt.Sprintf("%s#%d", path, i+1)
			}
			if err := store.PutDocument(ctx, name, doc); err != nil {
				return err
			}
			imported++
		}
	}

	if varsFile, _ := cmd.Flags().GetString("variables"); varsFile != "" {
		vars, err := source.ReadVariables(varsFile)
		if err != nil {
			return err
		}
		if err := store.PutVariables(ctx, vars); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d variables stored\n", len(vars))
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%d documents imported from %d files\n", imported, len(files))
	return nil
}

func runDocumentsDelete(cmd *cobra.Command, args []string) error {
	store, done, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer done()

	for _, name := range args {
		if err := store.DeleteDocument(cmd.Context(), name); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

// ruleFiles expands directories into the rule files below them.
func ruleFiles(paths []string) ([]string, error) {
	var files []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, p)
			continue
		}
		err = filepath.WalkDir(p, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && source.HasRuleExtension(path) {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return files, nil
}
