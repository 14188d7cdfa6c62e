package models

import "strings"

// ChannelType classifies a recorded channel.
type ChannelType int

const (
	ChannelEEG ChannelType = iota
	ChannelEOG
	ChannelMisc
)

func (c ChannelType) String() string {
	switch c {
	case ChannelEEG:
		return "eeg"
	case ChannelEOG:
		return "eog"
	default:
		return "misc"
	}
}

// ParseChannelType is the inverse of ChannelType.String. Unknown names map to misc.
func ParseChannelType(s string) ChannelType {
	switch strings.ToLower(s) {
	case "eeg":
		return ChannelEEG
	case "eog":
		return ChannelEOG
	default:
		return ChannelMisc
	}
}

// Position is an electrode location in head coordinates (metres).
type Position struct {
	X, Y, Z float64
}

type Channel struct {
	Name string
	Type ChannelType
	Pos  *Position
}

// findChannel looks a name up exactly first and then case-insensitively,
// since montage and amplifier software disagree on "FP1" vs "Fp1".
func findChannel(chans []Channel, name string) int {
	for i, ch := range chans {
		if ch.Name == name {
			return i
		}
	}
	for i, ch := range chans {
		if strings.EqualFold(ch.Name, name) {
			return i
		}
	}
	return -1
}

func copyChannels(chans []Channel) []Channel {
	out := make([]Channel, len(chans))
	for i, ch := range chans {
		out[i] = ch
		if ch.Pos != nil {
			p := *ch.Pos
			out[i].Pos = &p
		}
	}
	return out
}

func containsFold(list []string, name string) bool {
	for _, s := range list {
		if strings.EqualFold(s, name) {
			return true
		}
	}
	return false
}
