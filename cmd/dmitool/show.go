package main

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"

	"github.com/BourgeoisBear/rasterm"
	"github.com/andybons/gogif"
	"github.com/spf13/cobra"

	"github.com/Faultbox/dmiscope/internal/render"
	"github.com/Faultbox/dmiscope/pkg/dmi"
)

func (a *app) showCommand() *cobra.Command {
	var (
		dir   string
		frame int
		scale int
		sheet bool
		mode  string
	)
	cmd := &cobra.Command{
		Use:   "show <file.dmi> [state]",
		Short: "Draw a frame or the whole sheet in the terminal",
		Long: `Show draws an icon frame with the kitty, iTerm2 or sixel graphics protocol
when the terminal supports one, and with 24-bit color blocks otherwise.
Without a state, or with --sheet, the whole sprite sheet is drawn.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := a.manager()
			if err != nil {
				return err
			}

			var img image.Image
			if sheet || len(args) == 1 {
				if img, err = m.Sheet(args[0]); err != nil {
					return err
				}
			} else {
				d, err := dmi.ParseDirection(dir)
				if err != nil {
					return err
				}
				data, err := m.ExportFrame(cmd.Context(), args[0], args[1], d, frame)
				if err != nil {
					return err
				}
				if img, err = png.Decode(bytes.NewReader(data)); err != nil {
					return err
				}
			}

			if scale > 1 {
				b := img.Bounds()
				if img, err = render.Scale(img, b.Dx()*scale, b.Dy()*scale, render.Nearest); err != nil {
					return err
				}
			}
			return printImage(os.Stdout, img, mode)
		},
	}
	cmd.Flags().StringVarP(&dir, "dir", "d", "south", "Direction: name, short form or index")
	cmd.Flags().IntVar(&frame, "frame", 0, "Frame index")
	cmd.Flags().IntVarP(&scale, "scale", "s", 4, "Integer upscale factor")
	cmd.Flags().BoolVar(&sheet, "sheet", false, "Draw the whole sprite sheet")
	cmd.Flags().StringVar(&mode, "mode", "auto", "Output mode: auto, kitty, iterm, sixel, blocks")
	return cmd
}

// printImage writes img to w with the best protocol the terminal supports.
func printImage(w io.Writer, img image.Image, mode string) error {
	if mode == "auto" {
		mode = detectMode()
	}

	var err error
	switch mode {
	case "kitty":
		err = rasterm.Settings{}.KittyWriteImage(w, img)
	case "iterm":
		err = rasterm.Settings{}.ItermWriteImage(w, img)
	case "sixel":
		// Sixel needs a paletted image.
		pal := image.NewPaletted(img.Bounds(), nil)
		q := gogif.MedianCutQuantizer{NumColor: 255}
		q.Quantize(pal, img.Bounds(), img, img.Bounds().Min)
		err = rasterm.Settings{}.SixelWriteImage(w, pal)
	case "blocks":
		printBlocks(w, img)
		return nil
	default:
		return fmt.Errorf("unknown output mode %q", mode)
	}
	if err != nil {
		return err
	}
	fmt.Fprintln(w)
	return nil
}

func detectMode() string {
	switch {
	case rasterm.IsTermKitty():
		return "kitty"
	case rasterm.IsTermItermWez():
		return "iterm"
	}
	if capable, err := rasterm.IsSixelCapable(); capable && err == nil {
		return "sixel"
	}
	return "blocks"
}

// printBlocks draws two pixels per character cell with the upper half
// block, foreground for the top pixel and background for the bottom one.
func printBlocks(w io.Writer, img image.Image) {
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y += 2 {
		for x := b.Min.X; x < b.Max.X; x++ {
			top := img.At(x, y)
			var bottom color.Color = color.Transparent
			if y+1 < b.Max.Y {
				bottom = img.At(x, y+1)
			}

			tr, tg, tb, ta := top.RGBA()
			br, bg, bb, ba := bottom.RGBA()
			switch {
			case ta == 0 && ba == 0:
				fmt.Fprint(w, "\x1b[0m ")
			case ta == 0:
				fmt.Fprintf(w, "\x1b[0m\x1b[38;2;%d;%d;%dm▄", br>>8, bg>>8, bb>>8)
			case ba == 0:
				fmt.Fprintf(w, "\x1b[0m\x1b[38;2;%d;%d;%dm▀", tr>>8, tg>>8, tb>>8)
			default:
				fmt.Fprintf(w, "\x1b[38;2;%d;%d;%dm\x1b[48;2;%d;%d;%dm▀", tr>>8, tg>>8, tb>>8, br>>8, bg>>8, bb>>8)
			}
		}
		fmt.Fprint(w, "\x1b[0m\n")
	}
}
