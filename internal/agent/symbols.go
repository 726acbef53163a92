package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dshills/stormdbg/internal/sym"
)

// WireInline is one inline expansion in the symbol tables.
type WireInline struct {
	Function string `json:"function"`
	Low      uint64 `json:"low"`
	High     uint64 `json:"high"`
	CallFile string `json:"callFile"`
	CallLine int    `json:"callLine"`
	Depth    int    `json:"depth"`
}

// WireFunc is one physical function in the symbol tables.
type WireFunc struct {
	Name            string       `json:"name"`
	Low             uint64       `json:"low"`
	High            uint64       `json:"high"`
	Inlines         []WireInline `json:"inlines,omitempty"`
	Trampoline      bool         `json:"trampoline,omitempty"`
	TrampolineDests []uint64     `json:"trampolineDests,omitempty"`
}

// WireLine is one line-table row.
type WireLine struct {
	File string `json:"file"`
	Line int    `json:"line"`
	Low  uint64 `json:"low"`
	High uint64 `json:"high"`
}

// SymbolsResponseBody is the body of a successful "symbols" response.
type SymbolsResponseBody struct {
	Functions []WireFunc `json:"functions"`
	Lines     []WireLine `json:"lines"`
}

// toTables converts the wire form to symbol tables.
func (b SymbolsResponseBody) toTables() sym.Tables {
	t := sym.Tables{
		Functions: make([]sym.FuncRecord, len(b.Functions)),
		Lines:     make([]sym.LineEntry, len(b.Lines)),
	}
	for i, fn := range b.Functions {
		rec := sym.FuncRecord{
			Name:            fn.Name,
			Range:           sym.AddressRange{Low: fn.Low, High: fn.High},
			Trampoline:      fn.Trampoline,
			TrampolineDests: fn.TrampolineDests,
		}
		for _, inl := range fn.Inlines {
			rec.Inlines = append(rec.Inlines, sym.InlineRecord{
				Function: inl.Function,
				Range:    sym.AddressRange{Low: inl.Low, High: inl.High},
				CallFile: inl.CallFile,
				CallLine: inl.CallLine,
				Depth:    inl.Depth,
			})
		}
		t.Functions[i] = rec
	}
	for i, ln := range b.Lines {
		t.Lines[i] = sym.LineEntry{
			File:  ln.File,
			Line:  ln.Line,
			Range: sym.AddressRange{Low: ln.Low, High: ln.High},
		}
	}
	return t
}

// Symbols downloads the target's symbol tables. Fetched once at attach; the
// resulting tables back an in-process sym.Index so later lookups never touch
// the wire.
func (c *Client) Symbols(ctx context.Context) (sym.Tables, error) {
	resp, err := c.sendRequest(ctx, "symbols", nil)
	if err != nil {
		return sym.Tables{}, fmt.Errorf("fetch symbols: %w", err)
	}
	var body SymbolsResponseBody
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return sym.Tables{}, fmt.Errorf("decode symbols response: %w", err)
	}
	return body.toTables(), nil
}
