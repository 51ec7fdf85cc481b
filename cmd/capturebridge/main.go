// Command capturebridge runs a synthetic capture source through a session
// and pulls converted frames the way an encoder pipeline would.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/capturebridge/capturebridge"
	"github.com/capturebridge/capturebridge/internal/logging"
	"github.com/capturebridge/capturebridge/pkg/driver/videotest"
	"github.com/capturebridge/capturebridge/pkg/frame"
	"github.com/capturebridge/capturebridge/pkg/prop"
	"github.com/capturebridge/capturebridge/pkg/queue"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/image/bmp"
)

var log = logging.NewLogger("capturebridge/cmd")

func main() {
	var (
		width       = flag.Int("width", 640, "negotiated frame width")
		height      = flag.Int("height", 480, "negotiated frame height")
		fps         = flag.Float64("fps", 30, "producer frame rate")
		format      = flag.String("format", string(frame.FormatYUY2), "packed source format (YUY2 or UYVY)")
		queueSize   = flag.Int("queue", 30, "maximum frames waiting for the consumer")
		policy      = flag.String("policy", queue.DropOldest.String(), "overflow policy (drop-oldest or reject-newest)")
		repair      = flag.Bool("repair", false, "force monotonic, non-overlapping timestamps")
		jitter      = flag.Duration("jitter", 0, "random start time jitter applied by the producer")
		timeout     = flag.Duration("timeout", capturebridge.DefaultTimeout, "GetFrame wait")
		frames      = flag.Int("frames", 300, "frames to pull before exiting, 0 to run until interrupted")
		consumerLag = flag.Duration("consumer-lag", 0, "extra time the consumer spends per frame")
		metricsAddr = flag.String("metrics-addr", "", "serve Prometheus metrics on this address")
		snapshot    = flag.String("snapshot", "", "write the last frame to this BMP file")
	)
	flag.Parse()

	if err := run(config{
		video: prop.Video{
			Width:       *width,
			Height:      *height,
			FrameRate:   float32(*fps),
			FrameFormat: frame.Format(*format),
		},
		queueSize:   *queueSize,
		policy:      *policy,
		repair:      *repair,
		jitter:      frame.TicksFromDuration(*jitter),
		timeout:     *timeout,
		frames:      *frames,
		consumerLag: *consumerLag,
		metricsAddr: *metricsAddr,
		snapshot:    *snapshot,
	}); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type config struct {
	video       prop.Video
	queueSize   int
	policy      string
	repair      bool
	jitter      frame.Ticks
	timeout     time.Duration
	frames      int
	consumerLag time.Duration
	metricsAddr string
	snapshot    string
}

func run(c config) error {
	overflow, err := queue.ParseOverflowPolicy(c.policy)
	if err != nil {
		return err
	}

	dev := videotest.NewDriver(c.video, videotest.WithJitter(c.jitter))
	if err := dev.Open(); err != nil {
		return err
	}
	defer dev.Close()

	opts := []capturebridge.SessionOption{
		capturebridge.WithQueueCapacity(c.queueSize),
		capturebridge.WithOverflowPolicy(overflow),
		capturebridge.WithTimeout(c.timeout),
		capturebridge.WithRegisterer(prometheus.DefaultRegisterer),
	}
	if c.repair {
		opts = append(opts, capturebridge.WithTimestampRepair())
	}
	session, err := capturebridge.NewSession(dev.Properties(), opts...)
	if err != nil {
		return err
	}
	defer session.Close()

	if c.metricsAddr != "" {
		go serveMetrics(c.metricsAddr)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := dev.Start(session); err != nil {
		return err
	}

	out := session.NewOutput()
	var delivered int
	for c.frames == 0 || delivered < c.frames {
		ok, err := session.GetFrameContext(ctx, out)
		if errors.Is(err, context.Canceled) {
			break
		}
		if err != nil {
			log.Warnf("frame skipped: %v", err)
			continue
		}
		if !ok {
			continue
		}

		delivered++
		if delivered%30 == 0 {
			log.Infof("%d frames, last [%d, %d] discontinuity=%v, queue %d",
				delivered, out.StartTime, out.EndTime, out.Discontinuity, session.Stats().Queue.Depth)
		}
		if c.consumerLag > 0 {
			time.Sleep(c.consumerLag)
		}
	}
	if err := dev.Stop(); err != nil {
		return err
	}

	stats := session.Stats()
	log.Infof("session %s: delivered %d, dropped %d, transform errors %d, high water %d",
		session.ID(), delivered, stats.Dropped, stats.TransformErrors, stats.Queue.HighWater)

	if c.snapshot != "" && delivered > 0 {
		return writeSnapshot(c.snapshot, out)
	}
	return nil
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	log.Infof("serving metrics on %s/metrics", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Errorf("metrics server: %v", err)
	}
}

func writeSnapshot(path string, out *frame.Output) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := bmp.Encode(f, out.Image()); err != nil {
		f.Close()
		return fmt.Errorf("encode snapshot: %w", err)
	}
	return f.Close()
}
