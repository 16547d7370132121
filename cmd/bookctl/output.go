package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/listenupapp/bookstream/internal/domain"
	"github.com/listenupapp/bookstream/internal/protocol"
)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func year(b domain.Book) string {
	if b.PublishedYear == 0 {
		return "-"
	}
	return strconv.Itoa(int(b.PublishedYear))
}

func printBooks(w io.Writer, format string, books []domain.Book) error {
	if format == outputJSON {
		if books == nil {
			books = []domain.Book{}
		}
		return writeJSON(w, books)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE\tAUTHOR\tYEAR\tUPDATED")
	for _, b := range books {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", b.ID, b.Title, b.Author, year(b), b.UpdatedAt.Local().Format(time.DateTime))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "%d books\n", len(books))
	return err
}

func printBook(w io.Writer, format string, b domain.Book) error {
	if format == outputJSON {
		return writeJSON(w, b)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "ID:\t%s\n", b.ID)
	fmt.Fprintf(tw, "Title:\t%s\n", b.Title)
	fmt.Fprintf(tw, "Author:\t%s\n", b.Author)
	if b.Description != "" {
		fmt.Fprintf(tw, "Description:\t%s\n", b.Description)
	}
	fmt.Fprintf(tw, "Published:\t%s\n", year(b))
	fmt.Fprintf(tw, "Created:\t%s\n", b.CreatedAt.Local().Format(time.DateTime))
	fmt.Fprintf(tw, "Updated:\t%s\n", b.UpdatedAt.Local().Format(time.DateTime))
	return tw.Flush()
}

// printEnvelope prints one line per envelope, or the envelope itself as JSON.
func printEnvelope(w io.Writer, format string, resp protocol.Response) error {
	if format == outputJSON {
		return json.NewEncoder(w).Encode(resp)
	}

	line := fmt.Sprintf("%s  %-6s  %-13s  %s",
		resp.Timestamp.Local().Format(time.TimeOnly), resp.Action, resp.Status, resp.Message)
	if resp.Book != nil {
		line += fmt.Sprintf("  %s %q", resp.Book.ID, resp.Book.Title)
	}
	if n := resp.Count(); n >= 0 {
		line += fmt.Sprintf("  (%d books)", n)
	}
	_, err := fmt.Fprintln(w, line)
	return err
}
