package xdf

import (
	"strconv"
	"strings"
)

// formatFloat renders a float64 with the full round-trip precision spec
// §4.1 requires ("≥16 significant digits").
func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', 17, 64)
}

// BuildStreamFooterXML renders the StreamFooter payload XML document of
// spec §4.1.
func BuildStreamFooterXML(firstTimestamp, lastTimestamp float64, sampleCount uint64, offsets []OffsetEntry) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0"?><info>`)
	b.WriteString("<first_timestamp>")
	b.WriteString(formatFloat(firstTimestamp))
	b.WriteString("</first_timestamp>")
	b.WriteString("<last_timestamp>")
	b.WriteString(formatFloat(lastTimestamp))
	b.WriteString("</last_timestamp>")
	b.WriteString("<sample_count>")
	b.WriteString(strconv.FormatUint(sampleCount, 10))
	b.WriteString("</sample_count>")
	b.WriteString("<clock_offsets>")
	for _, o := range offsets {
		b.WriteString("<offset><time>")
		b.WriteString(formatFloat(o.CollectionTime))
		b.WriteString("</time><value>")
		b.WriteString(formatFloat(o.Offset))
		b.WriteString("</value></offset>")
	}
	b.WriteString("</clock_offsets>")
	b.WriteString("</info>")
	return b.String()
}
