package network

import (
	"encoding/gob"
	"os"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// paramDump is the gob representation of a parameter set.
type paramDump struct {
	Names []string
	Rows  []int
	Cols  []int
	Data  [][]float64
}

// SaveLearnables writes the parameter values to path.
func SaveLearnables(path string, params []*Param) error {
	dump := paramDump{
		Names: make([]string, len(params)),
		Rows:  make([]int, len(params)),
		Cols:  make([]int, len(params)),
		Data:  make([][]float64, len(params)),
	}
	for i, p := range params {
		r, c := p.Value.Dims()
		data := make([]float64, r*c)
		copy(data, p.Value.RawMatrix().Data)
		dump.Names[i] = p.Name
		dump.Rows[i] = r
		dump.Cols[i] = c
		dump.Data[i] = data
	}

	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "network: could not create %v", path)
	}
	defer f.Close()

	if err := gob.NewEncoder(f).Encode(dump); err != nil {
		return errors.Wrapf(err, "network: could not encode %v", path)
	}
	return nil
}

// LoadLearnables restores parameter values from path into params. The
// stored and target parameter sets must match in count and shape. A
// missing file is returned as an os.ErrNotExist-wrapping error so that
// callers can treat it as a fresh start.
func LoadLearnables(path string, params []*Param) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "network: could not open %v", path)
	}
	defer f.Close()

	var dump paramDump
	if err := gob.NewDecoder(f).Decode(&dump); err != nil {
		return errors.Wrapf(err, "network: could not decode %v", path)
	}
	if len(dump.Data) != len(params) {
		return errors.Errorf("network: checkpoint %v has %d parameters, "+
			"network has %d", path, len(dump.Data), len(params))
	}
	for i, p := range params {
		r, c := p.Value.Dims()
		if r != dump.Rows[i] || c != dump.Cols[i] {
			return errors.Errorf("network: checkpoint parameter %q shape "+
				"(%d, %d) does not match network shape (%d, %d)",
				dump.Names[i], dump.Rows[i], dump.Cols[i], r, c)
		}
		p.Value.Copy(mat.NewDense(r, c, dump.Data[i]))
	}
	return nil
}
