package model

import "testing"

func TestDeriveStatus(t *testing.T) {
	full := ListingRecord{SoldDate: Str("Oct 11, 2025"), Title: Str("t"), SoldPrice: Str("1")}
	if got := DeriveStatus(full); got != StatusComplete {
		t.Fatalf("DeriveStatus(full) = %s", got)
	}
	withSeller := full
	withSeller.SellerID = Str("someone")
	if got := DeriveStatus(withSeller); got != StatusComplete {
		t.Fatalf("seller must not affect status, got %s", got)
	}
	for name, drop := range map[string]func(*ListingRecord){
		"date":  func(r *ListingRecord) { r.SoldDate = nil },
		"title": func(r *ListingRecord) { r.Title = nil },
		"price": func(r *ListingRecord) { r.SoldPrice = nil },
	} {
		rec := full
		drop(&rec)
		if got := DeriveStatus(rec); got != StatusReprocess {
			t.Fatalf("without %s: DeriveStatus = %s, want Reprocess", name, got)
		}
	}
}

func TestTally(t *testing.T) {
	c := Tally([]ListingRecord{
		{Status: StatusComplete},
		{Status: StatusComplete, DuplicateOf: "a"},
		{Status: StatusReprocess},
		{Status: StatusFail},
	})
	want := Counts{Total: 4, Complete: 2, Reprocess: 1, Fail: 1, Duplicates: 1}
	if c != want {
		t.Fatalf("Tally() = %+v, want %+v", c, want)
	}
}

func TestStrAndSourceImageID(t *testing.T) {
	if Str("") != nil {
		t.Fatalf("Str(\"\") should be nil")
	}
	if Deref(nil) != "" || Deref(Str("x")) != "x" {
		t.Fatalf("Deref mismatch")
	}
	if got := (ListingRecord{ItemID: "img#2", ImageID: "img"}).SourceImageID(); got != "img" {
		t.Fatalf("SourceImageID = %q", got)
	}
	if got := (ListingRecord{ItemID: "img"}).SourceImageID(); got != "img" {
		t.Fatalf("SourceImageID = %q", got)
	}
}
