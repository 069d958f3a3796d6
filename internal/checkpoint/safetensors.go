package checkpoint

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"sort"

	"github.com/goccy/go-json"

	"github.com/mlforge/bertbuild/internal/tensor"
)

// TensorInfo describes one entry in a safetensors header.
type TensorInfo struct {
	DType string
	Shape []int
	Start int64
	End   int64
}

// File is a safetensors archive opened for reading. It implements Source.
type File struct {
	Path      string
	DataStart int64
	Tensors   map[string]TensorInfo
}

type tensorHeader struct {
	DType       string  `json:"dtype"`
	Shape       []int   `json:"shape"`
	DataOffsets []int64 `json:"data_offsets"`
}

// Open parses the safetensors header. Tensor data is read lazily.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	headerLen, err := readU64(f)
	if err != nil {
		return nil, err
	}
	headerBytes := make([]byte, headerLen)
	if _, err := io.ReadFull(f, headerBytes); err != nil {
		return nil, err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(headerBytes, &raw); err != nil {
		return nil, err
	}
	delete(raw, "__metadata__")

	tensors := make(map[string]TensorInfo, len(raw))
	for name, msg := range raw {
		var th tensorHeader
		if err := json.Unmarshal(msg, &th); err != nil {
			return nil, fmt.Errorf("parse tensor %s: %w", name, err)
		}
		if len(th.DataOffsets) != 2 {
			return nil, fmt.Errorf("tensor %s: invalid data_offsets", name)
		}
		tensors[name] = TensorInfo{
			DType: th.DType,
			Shape: th.Shape,
			Start: th.DataOffsets[0],
			End:   th.DataOffsets[1],
		}
	}
	return &File{
		Path:      path,
		DataStart: int64(8 + headerLen),
		Tensors:   tensors,
	}, nil
}

// Names returns all tensor names, sorted.
func (f *File) Names() []string {
	names := make([]string, 0, len(f.Tensors))
	for k := range f.Tensors {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Read loads one tensor, widening f16/bf16 to f32 and i64 to i32.
func (f *File) Read(name string) (*tensor.Tensor, error) {
	info, ok := f.Tensors[name]
	if !ok {
		return nil, fmt.Errorf("tensor not found: %s", name)
	}
	raw, err := f.readRaw(name, info)
	if err != nil {
		return nil, err
	}
	n, err := tensor.Shape(info.Shape).NumElements()
	if err != nil {
		return nil, fmt.Errorf("tensor %s: %w", name, err)
	}

	switch info.DType {
	case "F32":
		if len(raw) != n*4 {
			return nil, fmt.Errorf("tensor %s: invalid f32 data size", name)
		}
		return tensor.New(name, tensor.Shape(info.Shape), tensor.F32, raw)
	case "F16":
		if len(raw) != n*2 {
			return nil, fmt.Errorf("tensor %s: invalid f16 data size", name)
		}
		out := make([]float32, n)
		for i := 0; i < n; i++ {
			out[i] = fp16ToFloat32(binary.LittleEndian.Uint16(raw[i*2:]))
		}
		return tensor.FromFloat32(name, tensor.Shape(info.Shape), out)
	case "BF16":
		if len(raw) != n*2 {
			return nil, fmt.Errorf("tensor %s: invalid bf16 data size", name)
		}
		out := make([]float32, n)
		for i := 0; i < n; i++ {
			out[i] = bf16ToF32(binary.LittleEndian.Uint16(raw[i*2:]))
		}
		return tensor.FromFloat32(name, tensor.Shape(info.Shape), out)
	case "I32":
		if len(raw) != n*4 {
			return nil, fmt.Errorf("tensor %s: invalid i32 data size", name)
		}
		return tensor.New(name, tensor.Shape(info.Shape), tensor.I32, raw)
	case "I64":
		if len(raw) != n*8 {
			return nil, fmt.Errorf("tensor %s: invalid i64 data size", name)
		}
		out := make([]byte, n*4)
		for i := 0; i < n; i++ {
			v := int64(binary.LittleEndian.Uint64(raw[i*8:]))
			binary.LittleEndian.PutUint32(out[i*4:], uint32(int32(v)))
		}
		return tensor.New(name, tensor.Shape(info.Shape), tensor.I32, out)
	default:
		return nil, fmt.Errorf("tensor %s: unsupported dtype %s", name, info.DType)
	}
}

func (f *File) readRaw(name string, info TensorInfo) ([]byte, error) {
	if info.End < info.Start {
		return nil, fmt.Errorf("tensor %s: invalid offsets", name)
	}
	buf := make([]byte, info.End-info.Start)

	file, err := os.Open(f.Path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = file.Close() }()

	if _, err := file.ReadAt(buf, f.DataStart+info.Start); err != nil {
		return nil, fmt.Errorf("read tensor %s: %w", name, err)
	}
	return buf, nil
}

func readU64(r io.Reader) (uint64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

func bf16ToF32(u uint16) float32 {
	return math.Float32frombits(uint32(u) << 16)
}

func fp16ToFloat32(h uint16) float32 {
	sign := uint32(h>>15) & 0x1
	exp := uint32(h>>10) & 0x1F
	frac := uint32(h & 0x3FF)
	var f uint32
	switch exp {
	case 0:
		if frac == 0 {
			f = sign << 31
		} else {
			e := uint32(127 - 15 + 1)
			for (frac & 0x400) == 0 {
				frac <<= 1
				e--
			}
			frac &= 0x3FF
			f = (sign << 31) | (e << 23) | (frac << 13)
		}
	case 0x1F:
		f = (sign << 31) | 0x7F800000 | (frac << 13)
	default:
		e := exp + (127 - 15)
		f = (sign << 31) | (e << 23) | (frac << 13)
	}
	return math.Float32frombits(f)
}
