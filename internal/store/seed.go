package store

import (
	"fmt"
	"os"

	"github.com/goccy/go-yaml"

	"github.com/listenupapp/bookstream/internal/domain"
)

// seedFile is the YAML layout accepted by LoadSeedFile:
//
//	books:
//	  - title: Dune
//	    author: Frank Herbert
//	    published_year: 1965
type seedFile struct {
	Books []domain.BookInput `yaml:"books"`
}

// DefaultSeed returns the records the memory store starts with when no seed
// file is configured.
func DefaultSeed() []domain.BookInput {
	return []domain.BookInput{
		domain.NewBookInput("The Great Gatsby", "F. Scott Fitzgerald").
			WithDescription("A novel about the American dream set in the Jazz Age.").
			WithPublishedYear(1925),
		domain.NewBookInput("1984", "George Orwell").
			WithDescription("A dystopian social science fiction novel.").
			WithPublishedYear(1949),
		domain.NewBookInput("To Kill a Mockingbird", "Harper Lee").
			WithDescription("A novel about racial injustice in the American South.").
			WithPublishedYear(1960),
	}
}

// LoadSeedFile reads seed records from a YAML file. Records are returned as
// written; callers validate them before use.
func LoadSeedFile(path string) ([]domain.BookInput, error) {
	data, err := os.ReadFile(path) //#nosec G304 -- seed path comes from configuration
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}

	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse seed file %s: %w", path, err)
	}
	return f.Books, nil
}
