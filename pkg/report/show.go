package report

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/otherjamesbrown/tala/pkg/audit"
	"github.com/otherjamesbrown/tala/pkg/audit/payload"
)

// WriteShow replays one row and its decoded payload, fields in payload order.
// Nested records are indented two more spaces per level.
func WriteShow(w io.Writer, row audit.Row, rec *payload.Record) error {
	bw := bufio.NewWriter(w)

	fmt.Fprintf(bw, "Line #%d\n", row.Line)
	fmt.Fprintf(bw, "CreationDate=%s\n", row.CreationDate)
	fmt.Fprintf(bw, "UserId=%s\n", row.UserID)
	fmt.Fprintf(bw, "Operation=%s\n", row.Operation)
	bw.WriteString("AuditData:\n")
	writeRecord(bw, rec, 1)
	bw.WriteString("\n")

	return bw.Flush()
}

func writeRecord(bw *bufio.Writer, rec *payload.Record, depth int) {
	indent := strings.Repeat("  ", depth)
	for _, key := range rec.Keys() {
		v, _ := rec.Get(key)
		switch v.Kind() {
		case payload.KindRecord:
			r, _ := rec.GetRecord(key)
			fmt.Fprintf(bw, "%s%s:\n", indent, key)
			writeRecord(bw, r, depth+1)
		case payload.KindList:
			for i, r := range v.Records() {
				fmt.Fprintf(bw, "%s%s[%d]:\n", indent, key, i)
				writeRecord(bw, r, depth+1)
			}
		default:
			fmt.Fprintf(bw, "%s%s=%s\n", indent, key, v.Text())
		}
	}
}
