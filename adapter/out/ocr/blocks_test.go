package ocr

import (
	"math"
	"reflect"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/textract/types"
)

func lineBlock(id, text string, confidence float32) types.Block {
	return types.Block{
		Id:         aws.String(id),
		BlockType:  types.BlockTypeLine,
		Text:       aws.String(text),
		Confidence: aws.Float32(confidence),
	}
}

func wordBlock(id, text string) types.Block {
	return types.Block{
		Id:        aws.String(id),
		BlockType: types.BlockTypeWord,
		Text:      aws.String(text),
	}
}

func childRel(ids ...string) types.Relationship {
	return types.Relationship{Type: types.RelationshipTypeChild, Ids: ids}
}

func TestTransformBlocksKeyValues(t *testing.T) {
	blocks := []types.Block{
		lineBlock("l1", "Invoice", 99),
		wordBlock("w1", "Total"),
		wordBlock("w2", "$27,131.51"),
		{
			Id:            aws.String("k1"),
			BlockType:     types.BlockTypeKeyValueSet,
			EntityTypes:   []types.EntityType{types.EntityTypeKey},
			Confidence:    aws.Float32(95),
			Relationships: []types.Relationship{
				{Type: types.RelationshipTypeValue, Ids: []string{"v1"}},
				childRel("w1"),
			},
		},
		{
			Id:            aws.String("v1"),
			BlockType:     types.BlockTypeKeyValueSet,
			EntityTypes:   []types.EntityType{types.EntityTypeValue},
			Confidence:    aws.Float32(97.4),
			Relationships: []types.Relationship{childRel("w2")},
		},
	}

	result := transformBlocks(blocks)

	if result.RawText != "Invoice" {
		t.Errorf("RawText = %q, want Invoice", result.RawText)
	}
	if len(result.KeyValues) != 1 {
		t.Fatalf("got %d key/values, want 1", len(result.KeyValues))
	}
	kv := result.KeyValues[0]
	if kv.Key != "Total" || kv.Value != "$27,131.51" {
		t.Errorf("kv = %+v", kv)
	}
	if math.Abs(kv.Confidence-96.2) > 0.001 {
		t.Errorf("kv confidence = %v, want 96.2", kv.Confidence)
	}
	// Aggregate over one kv and no tables equals the kv confidence.
	if math.Abs(result.Confidence-96.2) > 0.001 {
		t.Errorf("aggregate = %v, want 96.2", result.Confidence)
	}
}

func TestTransformBlocksTable(t *testing.T) {
	cell := func(id string, row, col int32, wordID string, conf float32) types.Block {
		return types.Block{
			Id:            aws.String(id),
			BlockType:     types.BlockTypeCell,
			RowIndex:      aws.Int32(row),
			ColumnIndex:   aws.Int32(col),
			Confidence:    aws.Float32(conf),
			Relationships: []types.Relationship{childRel(wordID)},
		}
	}

	blocks := []types.Block{
		wordBlock("w1", "Item"),
		wordBlock("w2", "Qty"),
		wordBlock("w3", "Widget"),
		// Cell (2,2) has no word children; the grid keeps an empty string.
		cell("c11", 1, 1, "w1", 90),
		cell("c12", 1, 2, "w2", 92),
		cell("c21", 2, 1, "w3", 91),
		{
			Id:            aws.String("t1"),
			BlockType:     types.BlockTypeTable,
			Relationships: []types.Relationship{childRel("c11", "c12", "c21")},
		},
	}

	result := transformBlocks(blocks)
	if len(result.Tables) != 1 {
		t.Fatalf("got %d tables, want 1", len(result.Tables))
	}

	table := result.Tables[0]
	want := [][]string{{"Item", "Qty"}, {"Widget", ""}}
	if !reflect.DeepEqual(table.Rows, want) {
		t.Errorf("rows = %v, want %v", table.Rows, want)
	}
	if math.Abs(table.Confidence-91) > 0.001 {
		t.Errorf("table confidence = %v, want 91", table.Confidence)
	}
}

func TestTransformBlocksSelectionElements(t *testing.T) {
	blocks := []types.Block{
		wordBlock("w1", "Paid"),
		{
			Id:              aws.String("s1"),
			BlockType:       types.BlockTypeSelectionElement,
			SelectionStatus: types.SelectionStatusSelected,
		},
		{
			Id:            aws.String("k1"),
			BlockType:     types.BlockTypeKeyValueSet,
			EntityTypes:   []types.EntityType{types.EntityTypeKey},
			Confidence:    aws.Float32(88),
			Relationships: []types.Relationship{
				{Type: types.RelationshipTypeValue, Ids: []string{"v1"}},
				childRel("w1"),
			},
		},
		{
			Id:            aws.String("v1"),
			BlockType:     types.BlockTypeKeyValueSet,
			EntityTypes:   []types.EntityType{types.EntityTypeValue},
			Confidence:    aws.Float32(90),
			Relationships: []types.Relationship{childRel("s1")},
		},
	}

	result := transformBlocks(blocks)
	if len(result.KeyValues) != 1 {
		t.Fatalf("got %d key/values, want 1", len(result.KeyValues))
	}
	if result.KeyValues[0].Value != "[X]" {
		t.Errorf("value = %q, want [X]", result.KeyValues[0].Value)
	}
}

func TestTransformBlocksEmpty(t *testing.T) {
	result := transformBlocks(nil)
	if result.Confidence != 0 {
		t.Errorf("aggregate = %v, want 0 with no structure", result.Confidence)
	}
	if result.RawText != "" || len(result.KeyValues) != 0 || len(result.Tables) != 0 {
		t.Errorf("unexpected content: %+v", result)
	}
}

func TestLinesResult(t *testing.T) {
	blocks := []types.Block{
		lineBlock("l1", "first line", 80),
		lineBlock("l2", "second line", 90),
		wordBlock("w1", "ignored"),
	}

	result := linesResult(blocks)
	if result.RawText != "first line\nsecond line" {
		t.Errorf("RawText = %q", result.RawText)
	}
	if math.Abs(result.Confidence-85) > 0.001 {
		t.Errorf("confidence = %v, want 85", result.Confidence)
	}
	if len(result.KeyValues) != 0 || len(result.Tables) != 0 {
		t.Error("fallback result must carry no structure")
	}
}
