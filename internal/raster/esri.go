package raster

import (
	"bufio"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// EsriASCIIRaster is a parsed Esri ASCII grid. Data row zero is the
// northernmost row, as in the file. Either the corner or the center variant
// of the origin headers is present, never both.
type EsriASCIIRaster struct {
	Ncols       uint
	Nrows       uint
	Xcenter     *float64
	Ycenter     *float64
	Xcorner     *float64
	Ycorner     *float64
	CellSize    float64
	NoDataValue float64
	Data        [][]float64
}

// West returns the x coordinate of the raster's western edge.
func (r *EsriASCIIRaster) West() float64 {
	if r.Xcorner != nil {
		return *r.Xcorner
	}
	return *r.Xcenter - r.CellSize/2
}

// South returns the y coordinate of the raster's southern edge.
func (r *EsriASCIIRaster) South() float64 {
	if r.Ycorner != nil {
		return *r.Ycorner
	}
	return *r.Ycenter - r.CellSize/2
}

// East returns the x coordinate of the raster's eastern edge.
func (r *EsriASCIIRaster) East() float64 {
	return r.West() + float64(r.Ncols)*r.CellSize
}

// North returns the y coordinate of the raster's northern edge.
func (r *EsriASCIIRaster) North() float64 {
	return r.South() + float64(r.Nrows)*r.CellSize
}

// SampleAt returns the cell value containing (x, y), or (NoDataValue, false)
// outside the raster.
func (r *EsriASCIIRaster) SampleAt(x, y float64) (float64, bool) {
	col := int((x - r.West()) / r.CellSize)
	row := int((r.North() - y) / r.CellSize)
	if col < 0 || col >= int(r.Ncols) || row < 0 || row >= int(r.Nrows) {
		return r.NoDataValue, false
	}
	return r.Data[row][col], true
}

// ParseEsriASCIIRaster reads an Esri ASCII grid from the reader.
func ParseEsriASCIIRaster(reader io.Reader) (*EsriASCIIRaster, error) {
	raster := &EsriASCIIRaster{}
	remaining := []string{"NCOLS", "NROWS", "XLLCENTER", "XLLCORNER", "YLLCENTER", "YLLCORNER", "CELLSIZE", "NODATA_VALUE"}
	inHeader := true
	rowIndex := uint(0)

	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		keyword := strings.ToUpper(fields[0])

		if inHeader && containsString(remaining, keyword) {
			remaining = removeString(remaining, keyword)

			// corner and center origins are mutually exclusive
			switch keyword {
			case "XLLCENTER", "YLLCENTER":
				remaining = removeString(remaining, "XLLCORNER")
				remaining = removeString(remaining, "YLLCORNER")
			case "XLLCORNER", "YLLCORNER":
				remaining = removeString(remaining, "XLLCENTER")
				remaining = removeString(remaining, "YLLCENTER")
			}

			if err := parseHeaderLine(fields, raster); err != nil {
				return nil, err
			}
			continue
		}

		if inHeader {
			// first data line; NODATA_VALUE is the only optional header
			remaining = removeString(remaining, "NODATA_VALUE")
			if len(remaining) > 0 {
				return nil, fmt.Errorf("raster: esri grid is missing mandatory headers: %s", strings.Join(remaining, ", "))
			}
			inHeader = false
			raster.Data = make([][]float64, raster.Nrows)
		}

		row, err := parseDataLine(fields, raster.Ncols)
		if err != nil {
			return nil, err
		}
		raster.Data[rowIndex] = row
		rowIndex++
		if rowIndex >= raster.Nrows {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("raster: read esri grid: %w", err)
	}
	if rowIndex < raster.Nrows {
		return nil, fmt.Errorf("raster: esri grid ended after %d of %d rows", rowIndex, raster.Nrows)
	}

	return raster, nil
}

// ReadEsriASCIIRaster loads a grid from a file, transparently gunzipping
// paths ending in .gz.
func ReadEsriASCIIRaster(path string) (*EsriASCIIRaster, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("raster: open %s: %w", path, err)
	}
	defer file.Close()

	var reader io.Reader = file
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(file)
		if err != nil {
			return nil, fmt.Errorf("raster: open %s: %w", path, err)
		}
		defer gz.Close()
		reader = gz
	}

	return ParseEsriASCIIRaster(reader)
}

func parseHeaderLine(fields []string, grid *EsriASCIIRaster) error {
	if len(fields) != 2 {
		return fmt.Errorf("raster: esri header line must have exactly two fields, got %d", len(fields))
	}

	switch strings.ToUpper(fields[0]) {
	case "NCOLS":
		i, err := strconv.ParseUint(fields[1], 10, 32)
		if err != nil {
			return err
		}
		grid.Ncols = uint(i)
	case "NROWS":
		i, err := strconv.ParseUint(fields[1], 10, 32)
		if err != nil {
			return err
		}
		grid.Nrows = uint(i)
	case "XLLCENTER":
		f, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return err
		}
		grid.Xcenter = &f
	case "XLLCORNER":
		f, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return err
		}
		grid.Xcorner = &f
	case "YLLCENTER":
		f, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return err
		}
		grid.Ycenter = &f
	case "YLLCORNER":
		f, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return err
		}
		grid.Ycorner = &f
	case "CELLSIZE":
		f, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return err
		}
		if f <= 0 {
			return fmt.Errorf("raster: esri CELLSIZE must be greater than 0")
		}
		grid.CellSize = f
	case "NODATA_VALUE":
		f, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return err
		}
		grid.NoDataValue = f
	default:
		return fmt.Errorf("raster: unknown esri header keyword %q", fields[0])
	}

	return nil
}

func parseDataLine(fields []string, cols uint) ([]float64, error) {
	if uint(len(fields)) < cols {
		return nil, fmt.Errorf("raster: esri data row has %d of %d columns", len(fields), cols)
	}

	row := make([]float64, cols)
	for i := uint(0); i < cols; i++ {
		f, err := strconv.ParseFloat(fields[i], 64)
		if err != nil {
			return nil, err
		}
		row[i] = f
	}
	return row, nil
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func removeString(list []string, s string) []string {
	var out []string
	for _, v := range list {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}
