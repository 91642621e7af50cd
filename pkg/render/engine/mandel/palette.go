/*
Copyright 2025 The Kubernetes Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package mandel

import "image/color"

// wheelSegment is the number of steps between two neighbouring colors of the wheel.
const wheelSegment = 255

// colorWheel returns a palette that cycles red, yellow, green, cyan, blue, magenta and back to red.
func colorWheel() []color.RGBA {
	corners := []color.RGBA{
		{255, 0, 0, 255},
		{255, 255, 0, 255},
		{0, 255, 0, 255},
		{0, 255, 255, 255},
		{0, 0, 255, 255},
		{255, 0, 255, 255},
	}
	wheel := make([]color.RGBA, 0, len(corners)*wheelSegment)
	for i, from := range corners {
		to := corners[(i+1)%len(corners)]
		for step := range wheelSegment {
			wheel = append(wheel, color.RGBA{
				R: blend(from.R, to.R, step),
				G: blend(from.G, to.G, step),
				B: blend(from.B, to.B, step),
				A: 255,
			})
		}
	}
	return wheel
}

func blend(from, to uint8, step int) uint8 {
	return uint8((int(from)*(wheelSegment-step) + int(to)*step) / wheelSegment)
}

// colorize maps escape counts onto the palette. Points inside the set are black. e.mu must be held.
func (e *Engine) colorize() {
	black := color.RGBA{A: 255}
	for i, n := range e.counts {
		c := black
		if n > 0 {
			c = e.palette[int(n)%len(e.palette)]
		}
		e.img.Pix[4*i], e.img.Pix[4*i+1], e.img.Pix[4*i+2], e.img.Pix[4*i+3] = c.R, c.G, c.B, c.A
	}
}
