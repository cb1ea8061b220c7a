package capture

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

const maxFrameSize = 10 * 1024 * 1024

// ffmpegArgs builds the command line that decodes src into an MJPEG stream
// on stdout at a fixed rate and resolution.
func ffmpegArgs(src string, opts Options) []string {
	args := []string{
		"-hide_banner",
		"-loglevel", "warning",
	}

	switch {
	case strings.HasPrefix(src, "rtsp://") || strings.HasPrefix(src, "rtsps://"):
		args = append(args,
			"-rtsp_transport", "tcp",
			"-timeout", "5000000", // microseconds
		)
	case strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://"):
		args = append(args,
			"-reconnect", "1",
			"-reconnect_streamed", "1",
			"-reconnect_delay_max", "5",
			"-timeout", "10000000",
		)
	}

	format := opts.InputFormat
	if format == "" && strings.HasPrefix(src, "/dev/video") {
		format = "v4l2"
	}
	if format != "" {
		args = append(args,
			"-f", format,
			"-video_size", fmt.Sprintf("%dx%d", opts.Width, opts.Height),
			"-framerate", fmt.Sprint(opts.FPS),
		)
	}

	return append(args,
		"-i", src,
		"-vf", fmt.Sprintf("fps=%d,scale=%d:%d", opts.FPS, opts.Width, opts.Height),
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-q:v", "3",
		"pipe:1",
	)
}

// runFFmpeg starts ffmpeg on src and calls emit with every JPEG frame
// until the stream ends or ctx is cancelled.
func runFFmpeg(ctx context.Context, src string, opts Options, emit func([]byte)) error {
	cmd := exec.CommandContext(ctx, "ffmpeg", ffmpegArgs(src, opts)...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("ffmpeg stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("ffmpeg stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start ffmpeg: %w", err)
	}

	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			slog.Warn("ffmpeg stderr", "output", scanner.Text())
		}
	}()

	if err := readJPEGFrames(ctx, stdout, 5*time.Second, emit); err != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("read frames: %w", err)
	}

	return cmd.Wait()
}

// readJPEGFrames splits a stream of concatenated JPEG images. While no
// frame has been read yet, EOF is tolerated for up to startup.
func readJPEGFrames(ctx context.Context, r io.Reader, startup time.Duration, emit func([]byte)) error {
	reader := bufio.NewReaderSize(r, 512*1024)
	frames := 0
	deadline := time.Now().Add(startup)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := findJPEGStart(reader); err != nil {
			if errors.Is(err, io.EOF) {
				if frames > 0 {
					return nil
				}
				if time.Now().Before(deadline) {
					time.Sleep(100 * time.Millisecond)
					continue
				}
				return fmt.Errorf("no frames received within %s", startup)
			}
			return err
		}

		frame, err := readUntilJPEGEnd(reader)
		if err != nil {
			if errors.Is(err, io.EOF) && frames > 0 {
				return nil
			}
			return err
		}

		frames++
		emit(frame)
	}
}

func findJPEGStart(r *bufio.Reader) error {
	for {
		b, err := r.ReadByte()
		if err != nil {
			return err
		}
		if b != 0xFF {
			continue
		}
		b, err = r.ReadByte()
		if err != nil {
			return err
		}
		if b == 0xD8 {
			return nil
		}
	}
}

func readUntilJPEGEnd(r *bufio.Reader) ([]byte, error) {
	data := []byte{0xFF, 0xD8}

	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		data = append(data, b)

		if b == 0xFF {
			next, err := r.ReadByte()
			if err != nil {
				return nil, err
			}
			data = append(data, next)
			if next == 0xD9 {
				return data, nil
			}
		}

		if len(data) > maxFrameSize {
			return nil, fmt.Errorf("jpeg frame exceeds %d bytes", maxFrameSize)
		}
	}
}
