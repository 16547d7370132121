package main

import (
	"context"
	"strings"

	"github.com/spf13/cobra"

	"github.com/listenupapp/bookstream/internal/client"
	"github.com/listenupapp/bookstream/internal/domain"
)

// run connects, calls fn with a deadline and disconnects.
func (f *globalFlags) run(cmd *cobra.Command, fn func(ctx context.Context, m *client.Manager) error) error {
	m, err := f.connect(cmd)
	if err != nil {
		return err
	}
	defer m.Disconnect()

	ctx, cancel := context.WithTimeout(cmd.Context(), f.timeout)
	defer cancel()

	return describe(fn(ctx, m), f.timeout)
}

func newListCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list [query]",
		Short: "List books, most recently updated first",
		Long: `List prints every book, or those whose title or author contains the
query (case-insensitive).`,
		Example: `  bookctl list
  bookctl list orwell -o json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			return flags.run(cmd, func(ctx context.Context, m *client.Manager) error {
				books, err := m.ListBooks(ctx, query)
				if err != nil {
					return err
				}
				return printBooks(cmd.OutOrStdout(), flags.output, books)
			})
		},
	}
}

func newGetCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show one book",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return flags.run(cmd, func(ctx context.Context, m *client.Manager) error {
				book, err := m.GetBook(ctx, args[0])
				if err != nil {
					return err
				}
				return printBook(cmd.OutOrStdout(), flags.output, book)
			})
		},
	}
}

// bookFlags are the editable fields of a book.
type bookFlags struct {
	title       string
	author      string
	description string
	year        int32
}

func (b *bookFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&b.title, "title", "", "Book title")
	cmd.Flags().StringVar(&b.author, "author", "", "Book author")
	cmd.Flags().StringVar(&b.description, "description", "", "Book description")
	cmd.Flags().Int32Var(&b.year, "year", 0, "Year of publication")
}

// input returns the fields whose flags were given on the command line.
func (b *bookFlags) input(cmd *cobra.Command) domain.BookInput {
	var in domain.BookInput
	if cmd.Flags().Changed("title") {
		in.Title = &b.title
	}
	if cmd.Flags().Changed("author") {
		in.Author = &b.author
	}
	if cmd.Flags().Changed("description") {
		in.Description = &b.description
	}
	if cmd.Flags().Changed("year") {
		in.PublishedYear = &b.year
	}
	return in
}

func newCreateCommand(flags *globalFlags) *cobra.Command {
	fields := &bookFlags{}
	cmd := &cobra.Command{
		Use:     "create",
		Short:   "Create a book",
		Example: `  bookctl create --title Dune --author "Frank Herbert" --year 1965`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			in := fields.input(cmd)
			return flags.run(cmd, func(ctx context.Context, m *client.Manager) error {
				book, err := m.CreateBook(ctx, in)
				if err != nil {
					return err
				}
				return printBook(cmd.OutOrStdout(), flags.output, book)
			})
		},
	}
	fields.register(cmd)
	return cmd
}

func newUpdateCommand(flags *globalFlags) *cobra.Command {
	fields := &bookFlags{}
	cmd := &cobra.Command{
		Use:     "update <id>",
		Short:   "Change some fields of a book",
		Long:    "Update sends only the fields given as flags. Other fields keep their values.",
		Example: `  bookctl update book-V1StGXR8_Z5jdHi6B-myT --year 1966`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := fields.input(cmd)
			return flags.run(cmd, func(ctx context.Context, m *client.Manager) error {
				book, err := m.UpdateBook(ctx, args[0], in)
				if err != nil {
					return err
				}
				return printBook(cmd.OutOrStdout(), flags.output, book)
			})
		},
	}
	fields.register(cmd)
	return cmd
}

func newDeleteCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a book",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return flags.run(cmd, func(ctx context.Context, m *client.Manager) error {
				book, err := m.DeleteBook(ctx, args[0])
				if err != nil {
					return err
				}
				return printBook(cmd.OutOrStdout(), flags.output, book)
			})
		},
	}
}
