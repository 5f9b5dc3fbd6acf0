package server

import (
	"fmt"

	"github.com/gofiber/fiber/v2"
	"gonum.org/v1/gonum/mat"

	"github.com/teslashibe/go-das/internal/beamform"
	"github.com/teslashibe/go-das/internal/pcm"
)

// SweepRequest is the JSON body of POST /api/sweep. Omitted range fields
// fall back to the configured sweep.
type SweepRequest struct {
	Signals [][]float64 `json:"signals"` // one row per sample, one column per mic
	Start   *float64    `json:"start,omitempty"`
	Stop    *float64    `json:"stop,omitempty"`
	Step    *float64    `json:"step,omitempty"`
}

// SweepResponse is the result of a sweep
type SweepResponse struct {
	Range  beamform.Range   `json:"range"`
	Points []beamform.Point `json:"points"`
	Peak   beamform.Point   `json:"peak"`
}

type pcmQuery struct {
	Channels int      `query:"channels"`
	Start    *float64 `query:"start"`
	Stop     *float64 `query:"stop"`
	Step     *float64 `query:"step"`
}

// sweepHandler sweeps a JSON signal matrix
func (s *Server) sweepHandler(c *fiber.Ctx) error {
	s.sweepRequests.Add(1)

	var req SweepRequest
	if err := c.BodyParser(&req); err != nil {
		s.sweepErrors.Add(1)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": fmt.Sprintf("invalid sweep body: %v", err),
		})
	}

	signals, err := signalMatrix(req.Signals)
	if err != nil {
		return s.sweepFailed(c, err)
	}

	return s.runSweep(c, signals, s.requestRange(req.Start, req.Stop, req.Step))
}

// sweepPCMHandler sweeps a raw interleaved s16le body
func (s *Server) sweepPCMHandler(c *fiber.Ctx) error {
	s.sweepRequests.Add(1)

	var q pcmQuery
	if err := c.QueryParser(&q); err != nil {
		s.sweepErrors.Add(1)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": fmt.Sprintf("invalid query: %v", err),
		})
	}

	if q.Channels == 0 {
		q.Channels = s.array.Geometry().MicCount
	}

	signals, err := pcm.Decode(c.Body(), q.Channels)
	if err != nil {
		return s.sweepFailed(c, err)
	}

	return s.runSweep(c, signals, s.requestRange(q.Start, q.Stop, q.Step))
}

func (s *Server) runSweep(c *fiber.Ctx, signals mat.Matrix, r beamform.Range) error {
	points, err := s.array.Sweep(signals, r)
	if err != nil {
		return s.sweepFailed(c, err)
	}

	peak, _ := beamform.Peak(points)

	return c.JSON(SweepResponse{
		Range:  r,
		Points: points,
		Peak:   peak,
	})
}

func (s *Server) sweepFailed(c *fiber.Ctx, err error) error {
	s.sweepErrors.Add(1)
	s.logger.Debug("sweep rejected", "error", err)

	return c.Status(errorStatus(err)).JSON(fiber.Map{
		"error": err.Error(),
	})
}

func (s *Server) requestRange(start, stop, step *float64) beamform.Range {
	r := s.cfg.Range()
	if start != nil {
		r.Start = *start
	}
	if stop != nil {
		r.Stop = *stop
	}
	if step != nil {
		r.Step = *step
	}
	return r
}

// signalMatrix packs rows of samples into a (samples x channels) matrix
func signalMatrix(rows [][]float64) (*mat.Dense, error) {
	if len(rows) == 0 || len(rows[0]) == 0 {
		return nil, fmt.Errorf("%w: signals must have at least one sample and one channel", beamform.ErrDimensionMismatch)
	}

	channels := len(rows[0])
	data := make([]float64, 0, len(rows)*channels)
	for i, row := range rows {
		if len(row) != channels {
			return nil, fmt.Errorf("%w: sample %d has %d channels, expected %d",
				beamform.ErrDimensionMismatch, i, len(row), channels)
		}
		data = append(data, row...)
	}

	return mat.NewDense(len(rows), channels, data), nil
}
