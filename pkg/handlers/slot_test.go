package handlers

import (
	"strings"
	"testing"
)

func TestSlotStatus_StageOrdering(t *testing.T) {
	if !(SlotProcessed.Stage() < SlotConfirmed.Stage() && SlotConfirmed.Stage() < SlotRooted.Stage()) {
		t.Fatalf("expected processed < confirmed < rooted, got %d/%d/%d",
			SlotProcessed.Stage(), SlotConfirmed.Stage(), SlotRooted.Stage())
	}
	if SlotStatus("bogus").Valid() {
		t.Error("expected unknown status to be invalid")
	}
}

func TestSlotHandler_Update(t *testing.T) {
	h := &SlotHandler{}
	parent := uint64(41)

	query := h.Update(42, &parent, SlotConfirmed)
	for _, want := range []string{
		"INSERT INTO slot",
		"VALUES (42, 41, 'confirmed', 1, NOW())",
		"ON CONFLICT (slot) DO UPDATE",
		"WHERE s.stage < excluded.stage",
	} {
		if !strings.Contains(query, want) {
			t.Errorf("statement missing %q: %s", want, query)
		}
	}
}

func TestSlotHandler_UpdateNilParent(t *testing.T) {
	h := &SlotHandler{}

	query := h.Update(7, nil, SlotRooted)
	if !strings.Contains(query, "VALUES (7, NULL, 'rooted', 2, NOW())") {
		t.Errorf("expected NULL parent literal: %s", query)
	}
	// nil parent не затирает ранее известного родителя
	if !strings.Contains(query, "COALESCE(excluded.parent, s.parent)") {
		t.Errorf("expected COALESCE on parent: %s", query)
	}
}

func TestSlotHandler_UpdateUnknownStatus(t *testing.T) {
	h := &SlotHandler{}
	if q := h.Update(7, nil, SlotStatus("bogus")); q != "" {
		t.Errorf("expected empty statement for unknown status, got %q", q)
	}
}
