package main

import (
	"bufio"
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/techcodex/codexcloud/internal/cloud"
)

func newLsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ls [folder-id]",
		Short: "List files and folders",
		Long: `List the contents of a remote folder. With no argument, lists the
provider's root. Continuation tokens from a previous page can be passed
with --page-token; --all follows them automatically.`,
		Args: cobra.MaximumNArgs(1),
		RunE: withApp(runLs),
	}

	cmd.Flags().Bool("shared", false, "list items shared with you instead of a folder")
	cmd.Flags().String("filter", "", "only show items whose name contains this text")
	cmd.Flags().Int("page-size", 0, "items per page (provider max when 0)")
	cmd.Flags().String("page-token", "", "continuation token from a previous page")
	cmd.Flags().Bool("all", false, "fetch every page")

	return cmd
}

func newGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <file-id>",
		Short: "Download a file",
		Long: `Download a remote file into the provider's download directory. An
existing local file of the same name is only replaced after
confirmation; --force skips the prompt.`,
		Args: cobra.ExactArgs(1),
		RunE: withApp(runGet),
	}

	cmd.Flags().BoolP("force", "f", false, "overwrite an existing local file without asking")

	return cmd
}

func newPutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "put <local-path> [folder-id]",
		Short: "Upload a file",
		Long:  "Upload a local file into a remote folder. With no folder id, uploads to the provider's root.",
		Args:  cobra.RangeArgs(1, 2),
		RunE:  withApp(runPut),
	}
}

func newRmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <file-id>",
		Short: "Delete a remote file",
		Args:  cobra.ExactArgs(1),
		RunE:  withApp(runRm),
	}
}

func newMkdirCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mkdir <name>",
		Short: "Create a remote folder",
		Args:  cobra.ExactArgs(1),
		RunE:  withApp(runMkdir),
	}

	cmd.Flags().String("parent", "", "parent folder id (provider root when empty)")

	return cmd
}

func newRepoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "repo",
		Short: "Repository management (GitHub)",
	}

	create := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a repository",
		Args:  cobra.ExactArgs(1),
		RunE:  withApp(runRepoCreate),
	}

	create.Flags().Bool("private", false, "create a private repository")

	cmd.AddCommand(create)

	return cmd
}

func runLs(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
	name, err := selectedProvider()
	if err != nil {
		return err
	}

	ix, err := a.index(ctx, name)
	if err != nil {
		return err
	}

	folderID := ix.Nav().Current().FolderID
	if len(args) == 1 {
		folderID = args[0]
	}

	shared, _ := cmd.Flags().GetBool("shared")
	filter, _ := cmd.Flags().GetString("filter")
	pageSize, _ := cmd.Flags().GetInt("page-size")
	pageToken, _ := cmd.Flags().GetString("page-token")
	all, _ := cmd.Flags().GetBool("all")

	opts := cloud.ListOptions{
		SharedWithMe: shared,
		NameFilter:   filter,
		PageSize:     pageSize,
		PageToken:    pageToken,
	}

	var (
		items     []cloud.RemoteFile
		nextToken string
	)

	if all {
		items, err = ix.ListAll(ctx, folderID, opts)
		if err != nil {
			return err
		}
	} else {
		page, listErr := ix.List(ctx, folderID, opts)
		if listErr != nil {
			return listErr
		}

		items = page.Items
		nextToken = page.NextPageToken
	}

	printItems(cmd, items)

	if nextToken != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "\nMore results: --page-token %q\n", nextToken)
	}

	return nil
}

func printItems(cmd *cobra.Command, items []cloud.RemoteFile) {
	if len(items) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "(empty)")
		return
	}

	rows := make([][]string, 0, len(items))

	for _, item := range items {
		kind := "file"
		size := formatSize(item.Size)

		if item.IsFolder {
			kind = "dir"
			size = "-"
		}

		rows = append(rows, []string{kind, size, formatTime(item.ModifiedAt), item.Name, item.ID})
	}

	printTable(cmd.OutOrStdout(), []string{"TYPE", "SIZE", "MODIFIED", "NAME", "ID"}, rows)
}

func runGet(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
	name, err := selectedProvider()
	if err != nil {
		return err
	}

	eng, err := a.engine(ctx, name)
	if err != nil {
		return err
	}

	force, _ := cmd.Flags().GetBool("force")

	confirm := func(path string) bool {
		if force {
			return true
		}

		return promptYesNo(cmd, fmt.Sprintf("%s exists, overwrite?", path))
	}

	path, err := eng.Download(ctx, args[0], confirm)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Downloaded to %s\n", path)

	return nil
}

func runPut(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
	name, err := selectedProvider()
	if err != nil {
		return err
	}

	eng, err := a.engine(ctx, name)
	if err != nil {
		return err
	}

	p, err := a.provider(ctx, name)
	if err != nil {
		return err
	}

	folderID := p.RootID()
	if len(args) == 2 {
		folderID = args[1]
	}

	created, err := eng.Upload(ctx, args[0], folderID)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Uploaded %s (%s)\n", created.Name, created.ID)

	return nil
}

func runRm(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
	name, err := selectedProvider()
	if err != nil {
		return err
	}

	eng, err := a.engine(ctx, name)
	if err != nil {
		return err
	}

	if err := eng.Delete(ctx, args[0]); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])

	return nil
}

// folderCreator is implemented by providers that support creating
// folders.
type folderCreator interface {
	CreateFolder(ctx context.Context, parentID, name string) (*cloud.RemoteFile, error)
}

func runMkdir(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
	name, err := selectedProvider()
	if err != nil {
		return err
	}

	p, err := a.provider(ctx, name)
	if err != nil {
		return err
	}

	creator, ok := p.(folderCreator)
	if !ok {
		return fmt.Errorf("%w: %s does not support creating folders", cloud.ErrUnsupportedOperation, name.Label())
	}

	parent, _ := cmd.Flags().GetString("parent")
	if parent == "" {
		parent = p.RootID()
	}

	created, err := creator.CreateFolder(ctx, parent, args[0])
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Created %s (%s)\n", created.Name, created.ID)

	return nil
}

// repoCreator is the GitHub-specific repository operation.
type repoCreator interface {
	CreateRepo(ctx context.Context, name string, private bool) (*cloud.RemoteFile, error)
}

func runRepoCreate(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
	name, err := selectedProvider()
	if err != nil {
		return err
	}

	p, err := a.provider(ctx, name)
	if err != nil {
		return err
	}

	creator, ok := p.(repoCreator)
	if !ok {
		return fmt.Errorf("%w: %s does not have repositories", cloud.ErrUnsupportedOperation, name.Label())
	}

	private, _ := cmd.Flags().GetBool("private")

	created, err := creator.CreateRepo(ctx, args[0], private)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Created repository %s\n", created.Name)

	return nil
}

// promptYesNo asks on stderr and reads a line from stdin. Anything but
// y/yes declines.
func promptYesNo(cmd *cobra.Command, question string) bool {
	fmt.Fprintf(cmd.ErrOrStderr(), "%s [y/N] ", question)

	reader := bufio.NewReader(cmd.InOrStdin())

	line, err := reader.ReadString('\n')
	if err != nil {
		return false
	}

	answer := strings.ToLower(strings.TrimSpace(line))

	return answer == "y" || answer == "yes"
}
