package ocr

import (
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/textract/types"

	"mailsift_server/core/domain"
	out "mailsift_server/core/port/out"
)

// transformBlocks reduces an analysis block list to the normalized result.
// Raw text comes from LINE blocks, form fields from KEY_VALUE_SET pairs,
// tables from TABLE/CELL grids. Aggregate confidence is the mean over all
// key/value and table confidences, 0 when both lists are empty.
func transformBlocks(blocks []types.Block) *out.OCRResult {
	byID := make(map[string]types.Block, len(blocks))
	for _, b := range blocks {
		if b.Id != nil {
			byID[*b.Id] = b
		}
	}

	var lines []string
	keyValues := []domain.KeyValue{}
	tables := []domain.Table{}

	for _, b := range blocks {
		switch b.BlockType {
		case types.BlockTypeLine:
			if text := aws.ToString(b.Text); text != "" {
				lines = append(lines, text)
			}
		case types.BlockTypeKeyValueSet:
			if !hasEntityType(b, types.EntityTypeKey) {
				continue
			}
			if kv, ok := resolveKeyValue(b, byID); ok {
				keyValues = append(keyValues, kv)
			}
		case types.BlockTypeTable:
			tables = append(tables, resolveTable(b, byID))
		}
	}

	var confidences []float64
	for _, kv := range keyValues {
		confidences = append(confidences, kv.Confidence)
	}
	for _, t := range tables {
		confidences = append(confidences, t.Confidence)
	}

	return &out.OCRResult{
		RawText:    strings.Join(lines, "\n"),
		KeyValues:  keyValues,
		Tables:     tables,
		Confidence: mean(confidences),
	}
}

// linesResult builds the plain-text fallback result. Confidence is the
// mean of line confidences since no structure was recovered.
func linesResult(blocks []types.Block) *out.OCRResult {
	var lines []string
	var confidences []float64

	for _, b := range blocks {
		if b.BlockType != types.BlockTypeLine {
			continue
		}
		if text := aws.ToString(b.Text); text != "" {
			lines = append(lines, text)
		}
		if b.Confidence != nil {
			confidences = append(confidences, float64(*b.Confidence))
		}
	}

	return &out.OCRResult{
		RawText:    strings.Join(lines, "\n"),
		KeyValues:  []domain.KeyValue{},
		Tables:     []domain.Table{},
		Confidence: mean(confidences),
	}
}

func hasEntityType(b types.Block, entity types.EntityType) bool {
	for _, e := range b.EntityTypes {
		if e == entity {
			return true
		}
	}
	return false
}

// resolveKeyValue pairs a KEY block with its VALUE block. Pairs whose
// VALUE block is missing from the index cannot be resolved.
func resolveKeyValue(key types.Block, byID map[string]types.Block) (domain.KeyValue, bool) {
	var value types.Block
	found := false
	for _, rel := range key.Relationships {
		if rel.Type != types.RelationshipTypeValue {
			continue
		}
		for _, id := range rel.Ids {
			if v, ok := byID[id]; ok {
				value = v
				found = true
				break
			}
		}
	}
	if !found {
		return domain.KeyValue{}, false
	}

	var confidences []float64
	if key.Confidence != nil {
		confidences = append(confidences, float64(*key.Confidence))
	}
	if value.Confidence != nil {
		confidences = append(confidences, float64(*value.Confidence))
	}

	return domain.KeyValue{
		Key:        childText(key, byID),
		Value:      childText(value, byID),
		Confidence: mean(confidences),
	}, true
}

// resolveTable walks a TABLE block's cells into a rectangular grid. Cell
// indexes are 1-based; absent cells stay empty strings.
func resolveTable(table types.Block, byID map[string]types.Block) domain.Table {
	type cell struct {
		row, col int
		text     string
	}

	var cells []cell
	var confidences []float64
	maxRow, maxCol := 0, 0

	for _, rel := range table.Relationships {
		if rel.Type != types.RelationshipTypeChild {
			continue
		}
		for _, id := range rel.Ids {
			b, ok := byID[id]
			if !ok || b.BlockType != types.BlockTypeCell {
				continue
			}
			row := int(aws.ToInt32(b.RowIndex))
			col := int(aws.ToInt32(b.ColumnIndex))
			if row < 1 || col < 1 {
				continue
			}
			if row > maxRow {
				maxRow = row
			}
			if col > maxCol {
				maxCol = col
			}
			cells = append(cells, cell{row: row, col: col, text: childText(b, byID)})
			if b.Confidence != nil {
				confidences = append(confidences, float64(*b.Confidence))
			}
		}
	}

	sort.Slice(cells, func(i, j int) bool {
		if cells[i].row != cells[j].row {
			return cells[i].row < cells[j].row
		}
		return cells[i].col < cells[j].col
	})

	rows := make([][]string, maxRow)
	for i := range rows {
		rows[i] = make([]string, maxCol)
	}
	for _, c := range cells {
		rows[c.row-1][c.col-1] = c.text
	}

	return domain.Table{Rows: rows, Confidence: mean(confidences)}
}

// childText concatenates a block's child WORD blocks, rendering selection
// elements as checkbox markers, space-joined and trimmed.
func childText(b types.Block, byID map[string]types.Block) string {
	var parts []string
	for _, rel := range b.Relationships {
		if rel.Type != types.RelationshipTypeChild {
			continue
		}
		for _, id := range rel.Ids {
			child, ok := byID[id]
			if !ok {
				continue
			}
			switch child.BlockType {
			case types.BlockTypeWord:
				if text := aws.ToString(child.Text); text != "" {
					parts = append(parts, text)
				}
			case types.BlockTypeSelectionElement:
				if child.SelectionStatus == types.SelectionStatusSelected {
					parts = append(parts, "[X]")
				} else {
					parts = append(parts, "[ ]")
				}
			}
		}
	}
	return strings.TrimSpace(strings.Join(parts, " "))
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
