package tiler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"sync"

	"github.com/bodgit/tiler/tile"
	"github.com/schollz/progressbar/v3"
)

type tileEncoder interface {
	Encode(m image.Image, colors int) ([]byte, error)
}

type pngEncoder struct{}

func (pngEncoder) Encode(m image.Image, colors int) ([]byte, error) {
	b := new(bytes.Buffer)
	if err := tile.Encode(b, m, colors); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

type encodeJob struct {
	index int
	image image.Image
}

func (p *Packer) feedTiles(ctx context.Context, slots []Slot) (<-chan encodeJob, <-chan error) {
	out := make(chan encodeJob)
	errc := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(errc)
		for _, s := range slots {
			// Elided tiles never reach the encoder
			if s.Elided {
				continue
			}

			select {
			case out <- encodeJob{index: s.Index, image: s.Image}:
			case <-ctx.Done():
				errc <- errors.New("encode cancelled")
				return
			}
		}
	}()
	return out, errc
}

func (p *Packer) encodeWorker(in <-chan encodeJob, enc tileEncoder, colors int, out [][]byte, bar *progressbar.ProgressBar) <-chan error {
	errc := make(chan error, 1)
	go func() {
		defer close(errc)
		for job := range in {
			b, err := enc.Encode(job.image, colors)
			if err != nil {
				errc <- fmt.Errorf("tile %d: %w", job.index, err)
				return
			}

			// Each index is only ever written by one worker
			out[job.index] = b

			if bar != nil {
				_ = bar.Add(1)
			}
		}
	}()
	return errc
}

func waitForPipeline(errs ...<-chan error) error {
	errc := mergeErrors(errs...)
	for err := range errc {
		if err != nil {
			return err
		}
	}
	return nil
}

func mergeErrors(cs ...<-chan error) <-chan error {
	var wg sync.WaitGroup
	out := make(chan error, len(cs))
	wg.Add(len(cs))
	for _, c := range cs {
		go func(c <-chan error) {
			for n := range c {
				out <- n
			}
			wg.Done()
		}(c)
	}
	go func() {
		wg.Wait()
		close(out)
	}()
	return out
}

// encodeTiles encodes every real slot on workers goroutines. The result is
// indexed like the grid; elided tiles are left nil.
func (p *Packer) encodeTiles(slots []Slot, enc tileEncoder, colors, workers int) ([][]byte, error) {
	ctx, cancelFunc := context.WithCancel(context.Background())
	defer cancelFunc()

	var pending int
	for _, s := range slots {
		if !s.Elided {
			pending++
		}
	}

	var bar *progressbar.ProgressBar
	if p.progress != nil {
		bar = progressbar.NewOptions(pending,
			progressbar.OptionSetWriter(p.progress),
			progressbar.OptionSetDescription("encoding tiles"),
			progressbar.OptionShowCount(),
			progressbar.OptionOnCompletion(func() {
				fmt.Fprintln(p.progress)
			}),
		)
	}

	out := make([][]byte, len(slots))

	var errcList []<-chan error

	jobs, errc := p.feedTiles(ctx, slots)
	errcList = append(errcList, errc)

	for i := 0; i < workers; i++ {
		errcList = append(errcList, p.encodeWorker(jobs, enc, colors, out, bar))
	}

	if err := waitForPipeline(errcList...); err != nil {
		return nil, err
	}

	return out, nil
}
