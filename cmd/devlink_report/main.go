// devlink_report exercises the device-to-device transfer engine against the simulated
// platform and reports per-device and per-transfer statistics.
//
// Example:
//
//	devlink_report -num_devices=4 -num_transfers=16 -num_elements=1048576 -tuple
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/devlink/devices"
	"github.com/gomlx/devlink/streams"
	"github.com/gomlx/devlink/transfer"
	"github.com/gomlx/devlink/types/shapes"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"
)

var (
	flagNumDevices = flag.Int("num_devices", 2, "Number of simulated devices to create.")
	flagArenaBytes = flag.Int("arena_bytes", 256<<20, "Device memory capacity per device, in bytes.")
	flagNumTransfers = flag.Int("num_transfers", 8, "Number of probe transfers to run. Transfers rotate "+
		"over all ordered device pairs.")
	flagNumElements = flag.Int("num_elements", 1<<20, "Number of float32 elements per probe tensor.")
	flagTuple = flag.Bool("tuple", false, "Use a tuple-shaped probe tensor (two halves plus index table) "+
		"instead of a flat array.")
	flagSubstreams = flag.Bool("substreams", true, "Serve transfers from the destination's substream pool. "+
		"If disabled every transfer creates a dedicated stream.")
	flagSubstreamLimit = flag.Int("substream_limit", streams.DefaultMaxSubstreams,
		"Capacity of each device-to-device stream's substream pool.")
)

var (
	headerRowStyle = lipgloss.NewStyle().Reverse(true).
			Padding(0, 2, 0, 2).Align(lipgloss.Center)

	oddRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFF")).
			PaddingLeft(1).PaddingRight(1)
	evenRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#999")).
			PaddingLeft(1).PaddingRight(1)

	titleStyle = lipgloss.NewStyle().Bold(true).Padding(1, 4, 1, 4)
)

func newPlainTable(withHeader bool) *lgtable.Table {
	return lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		StyleFunc(func(row, col int) (s lipgloss.Style) {
			if withHeader && row == 1 {
				s = headerRowStyle
				return
			}
			switch {
			case row%2 == 0:
				s = oddRowStyle
			default:
				s = evenRowStyle
			}
			if col == 0 {
				s = s.Align(lipgloss.Right)
			} else {
				s = s.Align(lipgloss.Left)
			}
			return
		})
}

func main() {
	flag.Parse()
	if *flagNumDevices < 2 {
		klog.Errorf("Need at least 2 devices for cross-device transfers, got -num_devices=%d.", *flagNumDevices)
		os.Exit(1)
	}

	platform := devices.NewSimulatedPlatform("sim", *flagNumDevices)
	devices.RegisterPlatform(platform)
	platform.Initialize()
	opts := transfer.DefaultOptions()
	opts.UseSubstreams = *flagSubstreams
	devs, engine := transfer.CreateDevices(platform, opts, devices.Config{
		ArenaBytes:     *flagArenaBytes,
		SubstreamLimit: *flagSubstreamLimit,
	})
	defer func() {
		for _, d := range devs {
			d.Close()
		}
	}()

	probeShape := shapes.Make(dtypes.Float32, *flagNumElements)
	if *flagTuple {
		half := shapes.Make(dtypes.Float32, (*flagNumElements+1)/2)
		probeShape = shapes.MakeTuple([]shapes.Shape{half, half})
	}
	runProbes(engine, devs, probeShape)
	reportDevices(devs)
}

// uploadProbe fills a freshly allocated tensor with random bytes through the device's
// compute stream and installs its definition event.
func uploadProbe(d *devices.Device, shape shapes.Shape) *transfer.DeviceTensor {
	tensor := transfer.NewDeviceTensor(shape)
	must.M(tensor.AllocateShapedBuffer(d.Arena(), nil))
	stream := d.ComputeStream()
	rng := rand.New(rand.NewSource(42))
	for _, leaf := range tensor.ShapedBuffer().Leaves() {
		leaf := leaf
		stream.Enqueue("upload probe leaf "+leaf.Path.String(), func() error {
			_, err := rng.Read(leaf.Region.Bytes())
			return err
		})
	}
	ev := streams.NewEvent()
	stream.RecordEvent(ev)
	tensor.ResetDefinitionEvent(ev, stream)
	return tensor
}

func runProbes(engine *transfer.Engine, devs []*devices.Device, shape shapes.Shape) {
	fmt.Println(titleStyle.Render("Probe Transfers"))
	table := newPlainTable(true)
	table.Row("#", "route", "shape", "payload", "latency", "result")
	for ii := 0; ii < *flagNumTransfers; ii++ {
		src := devs[ii%len(devs)]
		dst := devs[(ii+1)%len(devs)]
		input := uploadProbe(src, shape)
		output := transfer.NewDeviceTensor(shape)

		start := time.Now()
		done := make(chan error, 1)
		engine.DeviceToDevice(src.NewContext(), dst.NewContext(), src, dst,
			devices.AllocatorAttributes{}, devices.AllocatorAttributes{},
			input, output, 0, func(err error) { done <- err })
		err := <-done
		elapsed := time.Since(start)

		result := "ok"
		if err != nil {
			result = err.Error()
		}
		table.Row(
			humanize.Comma(int64(ii)),
			fmt.Sprintf("%s -> %s", src.Name(), dst.Name()),
			shape.String(),
			humanize.Bytes(uint64(input.ShapedBuffer().TotalBytes())),
			elapsed.Round(time.Microsecond).String(),
			result)
	}
	fmt.Println(table.Render())
}

func reportDevices(devs []*devices.Device) {
	fmt.Println(titleStyle.Render("Devices"))
	table := newPlainTable(true)
	table.Row("device", "memory in use", "capacity", "d2d streams", "substreams out")
	for _, d := range devs {
		table.Row(
			d.Name(),
			humanize.Bytes(uint64(d.Arena().InUse())),
			humanize.Bytes(uint64(d.Arena().Capacity())),
			humanize.Comma(int64(d.NumDeviceToDeviceStreams())),
			humanize.Comma(int64(d.DeviceToDeviceStream(0).NumCheckedOut())))
	}
	fmt.Println(table.Render())
}
