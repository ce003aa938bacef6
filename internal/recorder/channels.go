package recorder

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/audiolibrelab/xdfrecorder/internal/streamsource"
)

// injectedChannelCount returns how many extra channels the recording-
// timestamp injection adds for format, per spec §4.2/§6.2.
func injectedChannelCount(format streamsource.ChannelFormat) int {
	switch format {
	case streamsource.FormatFloat64, streamsource.FormatString:
		return 1
	case streamsource.FormatFloat32, streamsource.FormatInt32:
		return 2
	default:
		// i8, i16: injection is an explicit no-op (spec §9).
		return 0
	}
}

const (
	injectedChannel1 = `<channel><label>Recording Timestamp (Unix Epoch)</label>` +
		`<unit>milliseconds</unit><type>Recorder</type></channel>`
	injectedChannel2Base = `<channel><label>Recording Timestamp Base (Unix Epoch)</label>` +
		`<unit>milliseconds</unit><type>Recorder</type></channel>`
	injectedChannel2Remainder = `<channel><label>Recording Timestamp Remainder</label>` +
		`<unit>milliseconds</unit><type>Recorder</type></channel>`
)

var channelCountPattern = regexp.MustCompile(`<channel_count>(\d+)</channel_count>`)
var channelsCloseTag = regexp.MustCompile(`</channels>`)
var labelPattern = regexp.MustCompile(`<label>([^<]*)</label>`)

// spliceInjectedChannels rewrites xml per spec §6.2: bump <channel_count>
// by the format's injected-channel count and insert matching <channel>
// entries before </channels>. If no injection applies, xml is returned
// unchanged.
func spliceInjectedChannels(xml string, format streamsource.ChannelFormat) string {
	extra := injectedChannelCount(format)
	if extra == 0 {
		return xml
	}

	var entries string
	switch extra {
	case 1:
		entries = injectedChannel1
	case 2:
		entries = injectedChannel2Base + injectedChannel2Remainder
	}

	xml = channelCountPattern.ReplaceAllStringFunc(xml, func(match string) string {
		sub := channelCountPattern.FindStringSubmatch(match)
		n, err := strconv.Atoi(sub[1])
		if err != nil {
			return match
		}
		return fmt.Sprintf("<channel_count>%d</channel_count>", n+extra)
	})

	return channelsCloseTag.ReplaceAllString(xml, entries+"</channels>")
}

// extractChannelLabels pulls every <label> in document order, for CSV
// header construction in text mode (spec §4.1). Missing or unparsed labels
// fall back to "" so the writer can substitute "channel_N".
func extractChannelLabels(xml string, totalChannelCount int) []string {
	matches := labelPattern.FindAllStringSubmatch(xml, -1)
	labels := make([]string, totalChannelCount)
	for i := 0; i < len(matches) && i < totalChannelCount; i++ {
		labels[i] = matches[i][1]
	}
	return labels
}
