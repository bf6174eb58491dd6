//go:build !integration

package main

import (
	"strings"
	"testing"
)

func TestReadComments(t *testing.T) {
	in := "Prices are too high.\n\nc-9\tThe tax is fair.\n   \nx\t  \n"
	docs, err := readComments(strings.NewReader(in))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("want 2 docs, got %+v", docs)
	}
	if docs[0].ID != "1" || docs[0].Text != "Prices are too high." {
		t.Fatalf("first doc %+v", docs[0])
	}
	if docs[1].ID != "c-9" || docs[1].Text != "The tax is fair." {
		t.Fatalf("second doc %+v", docs[1])
	}
}
