package nn

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/jonGuti13/qonnx2mdc/internal/tensor"
)

// Summary renders a Keras-style table of layers, output shapes, parameter
// counts and quantizers.
func (m *Model) Summary() string {
	var sb strings.Builder
	w := tabwriter.NewWriter(&sb, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "Layer (type)\tOutput Shape\tParam #\tQuantizer")
	for i, l := range m.layers {
		n := 0
		for _, p := range l.Parameters() {
			n += p.Tensor().Len()
		}
		q := "-"
		if ql, ok := l.(Quantized); ok {
			q = ql.Quantizer().String()
		}
		fmt.Fprintf(w, "%s (%s)\t%s\t%d\t%s\n", l.Name(), l.Kind(), channelsLast(m.shapes[i]).WithBatch(0), n, q)
	}
	_ = w.Flush()
	fmt.Fprintf(&sb, "Total params: %d\n", m.NumParameters())
	return sb.String()
}

// channelsLast reports [C,H,W] feature maps as [H,W,C], the way Keras prints them.
func channelsLast(s tensor.Shape) tensor.Shape {
	if len(s) != 3 {
		return s
	}
	return tensor.Shape{s[1], s[2], s[0]}
}
