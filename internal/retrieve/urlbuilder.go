package retrieve

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/gruppe-adler/terrain/internal/geo"
)

// URLBuilder assembles GetCoverage request URLs for one coverage offering.
// The request prefix up to the per-tile parameters is built once and reused.
type URLBuilder struct {
	Endpoint string // service endpoint, normally ending in '?' or '&'
	Version  string
	Coverage string
	Format   string

	once   sync.Once
	prefix string
}

// NewURLBuilder builds a URL builder for a coverage offering.
func NewURLBuilder(endpoint, version, coverage, format string) *URLBuilder {
	return &URLBuilder{
		Endpoint: endpoint,
		Version:  version,
		Coverage: coverage,
		Format:   format,
	}
}

// URLFor returns the request URL for a tile covering the sector at the given
// pixel dimensions. The query ends with a trailing separator and spaces are
// percent-encoded.
func (b *URLBuilder) URLFor(sector geo.Sector, width, height int) string {
	b.once.Do(func() {
		var sb strings.Builder
		sb.WriteString(b.Endpoint)
		if !strings.Contains(strings.ToLower(b.Endpoint), "service=wcs") {
			sb.WriteString("service=WCS")
		}
		sb.WriteString("&request=GetCoverage")
		sb.WriteString("&version=")
		sb.WriteString(b.Version)
		sb.WriteString("&crs=EPSG:4326")
		sb.WriteString("&coverage=")
		sb.WriteString(b.Coverage)
		sb.WriteString("&format=")
		sb.WriteString(b.Format)
		b.prefix = sb.String()
	})

	var sb strings.Builder
	sb.WriteString(b.prefix)
	fmt.Fprintf(&sb, "&width=%d&height=%d", width, height)
	sb.WriteString("&bbox=")
	sb.WriteString(formatDegrees(sector.MinLon))
	sb.WriteByte(',')
	sb.WriteString(formatDegrees(sector.MinLat))
	sb.WriteByte(',')
	sb.WriteString(formatDegrees(sector.MaxLon))
	sb.WriteByte(',')
	sb.WriteString(formatDegrees(sector.MaxLat))
	sb.WriteByte('&')

	return strings.ReplaceAll(sb.String(), " ", "%20")
}

// formatDegrees renders a coordinate with an explicit fractional part, so a
// whole degree prints as "10.0" rather than "10".
func formatDegrees(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}
