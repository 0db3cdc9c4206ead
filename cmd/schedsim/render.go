package main

import "fmt"
import "time"

import "github.com/fogleman/gg"

import "github.com/Meulengracht/MollenOS-sub017/defs"
import "github.com/Meulengracht/MollenOS-sub017/schedtrace"

const (
	imgw    = 1600
	lanew   = imgw - 2*margin
	laneh   = 48
	margin  = 80
	legendh = 20
)

var palette = [][3]float64{
	{0.90, 0.30, 0.24},
	{0.20, 0.60, 0.86},
	{0.18, 0.80, 0.44},
	{0.95, 0.61, 0.07},
	{0.61, 0.35, 0.71},
	{0.10, 0.74, 0.61},
	{0.83, 0.33, 0.00},
	{0.20, 0.29, 0.37},
}

// colour picks a colour per thread; idle time is drawn light grey
func colour(tid defs.Tid_t, names map[defs.Tid_t]string) (float64, float64, float64) {
	if names[tid] == "idle" {
		return 0.9, 0.9, 0.9
	}
	c := palette[int(tid)%len(palette)]
	return c[0], c[1], c[2]
}

// render draws one lane per core with a box per dispatch, followed by a
// legend of thread names.
func render(path string, evs []schedtrace.Event_t, ncores int,
	span time.Duration) error {
	if span <= 0 {
		return fmt.Errorf("empty trace")
	}
	names := make(map[defs.Tid_t]string)
	var order []defs.Tid_t
	for _, ev := range evs {
		if _, ok := names[ev.Tid]; !ok {
			order = append(order, ev.Tid)
		}
		names[ev.Tid] = ev.Name
	}
	h := 2*margin + ncores*laneh + len(order)*legendh
	dc := gg.NewContext(imgw, h)
	dc.SetRGB(1, 1, 1)
	dc.Clear()

	scale := float64(lanew) / float64(span)
	for _, ev := range evs {
		x := margin + float64(ev.Start)*scale
		w := float64(ev.End-ev.Start) * scale
		if w < 1 {
			w = 1
		}
		y := float64(margin + ev.Core*laneh)
		dc.SetRGB(colour(ev.Tid, names))
		dc.DrawRectangle(x, y+4, w, laneh-8)
		dc.Fill()
	}

	dc.SetRGB(0, 0, 0)
	for c := 0; c < ncores; c++ {
		y := float64(margin + c*laneh + laneh/2)
		dc.DrawStringAnchored(fmt.Sprintf("core %d", c), margin-10, y, 1, 0.5)
	}
	dc.DrawString(fmt.Sprintf("%v", span.Round(time.Millisecond)),
		imgw-margin, float64(margin-10))
	dc.DrawString("0", margin, float64(margin-10))

	y := float64(margin + ncores*laneh + margin/2)
	for _, tid := range order {
		dc.SetRGB(colour(tid, names))
		dc.DrawRectangle(margin, y, legendh-6, legendh-6)
		dc.Fill()
		dc.SetRGB(0, 0, 0)
		dc.DrawString(fmt.Sprintf("%v %v", tid, names[tid]), margin+legendh,
			y+legendh-8)
		y += legendh
	}
	return dc.SavePNG(path)
}
