package engine

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"pdf", FormatPDF, false},
		{" SVG ", FormatSVG, false},
		{"Png", FormatPNG, false},
		{"jpeg", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFormat(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	assert.False(t, FormatPDF.Paged())
	assert.True(t, FormatSVG.Paged())
	assert.Equal(t, ".png", FormatPNG.Extension())
}

func TestExportSettingsValidate(t *testing.T) {
	tests := []struct {
		name     string
		settings ExportSettings
		wantErr  bool
	}{
		{"pdf ignores density", ExportSettings{Format: FormatPDF}, false},
		{"svg ignores density", ExportSettings{Format: FormatSVG, PixelPerPt: -1}, false},
		{"png default", ExportSettings{Format: FormatPNG, PixelPerPt: DefaultPixelPerPt}, false},
		{"png small", ExportSettings{Format: FormatPNG, PixelPerPt: 0.01}, false},
		{"png zero", ExportSettings{Format: FormatPNG, PixelPerPt: 0}, true},
		{"png negative", ExportSettings{Format: FormatPNG, PixelPerPt: -2}, true},
		{"png nan", ExportSettings{Format: FormatPNG, PixelPerPt: math.NaN()}, true},
		{"png inf", ExportSettings{Format: FormatPNG, PixelPerPt: math.Inf(1)}, true},
		{"unknown format", ExportSettings{Format: "bmp"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.settings.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestParseDate(t *testing.T) {
	d, err := ParseDate("")
	require.NoError(t, err)
	assert.Equal(t, DateAuto, d.Mode)

	d, err = ParseDate("None")
	require.NoError(t, err)
	assert.Equal(t, DateNone, d.Mode)

	d, err = ParseDate("2024-03-05")
	require.NoError(t, err)
	assert.Equal(t, DateExplicit, d.Mode)
	assert.True(t, d.DateOnly)
	assert.Equal(t, 5, d.Value.Day())

	d, err = ParseDate("2024-03-05T10:20:30Z")
	require.NoError(t, err)
	assert.False(t, d.DateOnly)
	assert.Equal(t, 10, d.Value.Hour())

	_, err = ParseDate("yesterday")
	assert.Error(t, err)
}

func TestSplitKeywords(t *testing.T) {
	assert.Equal(t, []string{"a", "b c"}, SplitKeywords(" a, ,b c,"))
	assert.Nil(t, SplitKeywords(""))
}

func TestMetadataPrelude(t *testing.T) {
	now := time.Date(2025, time.June, 1, 8, 9, 10, 0, time.UTC)

	var none *Metadata
	assert.Equal(t, "", none.Prelude(now))

	m := &Metadata{}
	assert.Equal(t,
		"#set document(date: datetime(year: 2025, month: 6, day: 1, hour: 8, minute: 9, second: 10))\n",
		m.Prelude(now))

	m = &Metadata{
		Title:    `Q3 "Report"`,
		Author:   "Ada",
		Keywords: []string{"finance"},
		Date:     DateSetting{Mode: DateNone},
	}
	assert.Equal(t,
		`#set document(title: "Q3 \"Report\"", author: "Ada", keywords: ("finance",), date: none)`+"\n",
		m.Prelude(now))

	date, err := ParseDate("2020-01-02")
	require.NoError(t, err)
	m = &Metadata{Description: "d", Date: date}
	assert.Equal(t,
		`#set document(description: "d", date: datetime(year: 2020, month: 1, day: 2))`+"\n",
		m.Prelude(now))
}

func TestVerify(t *testing.T) {
	assert.NoError(t, Verify(FormatPDF, []byte("%PDF-1.7\n...")))
	assert.Error(t, Verify(FormatPDF, []byte("<svg/>")))

	assert.NoError(t, Verify(FormatPNG, append([]byte("\x89PNG\r\n\x1a\n"), 0, 0)))
	assert.Error(t, Verify(FormatPNG, []byte("PNG")))

	good := []string{
		`<svg xmlns="http://www.w3.org/2000/svg"><g><path d="M0 0"/></g></svg>`,
		`<?xml version="1.0"?>` + "\n" + `<svg><text>a &amp; b</text></svg>` + "\n",
		`<svg/>`,
	}
	for _, s := range good {
		assert.NoError(t, Verify(FormatSVG, []byte(s)), s)
	}

	bad := []string{
		``,
		`<html></html>`,
		`<svg><g></svg>`,
		`<svg></svg><svg></svg>`,
		`<svg></g></svg>`,
		`stray <svg></svg>`,
	}
	for _, s := range bad {
		assert.Error(t, Verify(FormatSVG, []byte(s)), s)
	}
}
