package botserver

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/bartossh/Accreditor/repository"
	"github.com/bartossh/Accreditor/transaction"
	"github.com/bartossh/Accreditor/verifyinvestor"
)

// AliveResponse is a response for alive and version check.
type AliveResponse struct {
	Alive      bool   `json:"alive"`
	APIVersion string `json:"api_version"`
	APIHeader  string `json:"api_header"`
}

// SweepResponse is a response for the sweep run.
type SweepResponse struct {
	Swept string `json:"swept"`
}

// AdvanceResponse is a response for the single transaction step.
type AdvanceResponse struct {
	Outcome       string `json:"outcome"`
	TransactionID int64  `json:"transaction_id"`
}

// ReviewResponse is a response for the review request.
type ReviewResponse struct {
	Reviewed bool `json:"reviewed"`
}

// TransactionResponse describes the verification state of the transaction.
type TransactionResponse struct {
	TransactionID int64  `json:"transaction_id"`
	VIStatus      int    `json:"vi_status"`
	Status        string `json:"status"`
	VRStatus      string `json:"vi_vr_status,omitempty"`
	Description   string `json:"description,omitempty"`
}

func (s *server) alive(c *fiber.Ctx) error {
	return c.JSON(
		AliveResponse{
			Alive:      true,
			APIVersion: ApiVersion,
			APIHeader:  Header,
		})
}

func (s *server) authorize(c *fiber.Ctx) error {
	token := c.Get(AdminTokenHeader)
	if token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(s.token)) != 1 {
		s.log.Warn(fmt.Sprintf("bot server, unauthorized request to %s from ip: %s", c.Path(), c.IP()))
		return fiber.ErrUnauthorized
	}
	return c.Next()
}

func (s *server) sweepAuthorizations(c *fiber.Ctx) error {
	if err := s.engine.SweepAuthorizations(c.Context()); err != nil {
		s.log.Error(fmt.Sprintf("bot server, sweep authorizations: %s", err))
		return fiber.ErrInternalServerError
	}
	return c.JSON(SweepResponse{Swept: "authorizations"})
}

func (s *server) sweepVerifications(c *fiber.Ctx) error {
	if err := s.engine.SweepVerifications(c.Context()); err != nil {
		s.log.Error(fmt.Sprintf("bot server, sweep verifications: %s", err))
		return fiber.ErrInternalServerError
	}
	return c.JSON(SweepResponse{Swept: "verifications"})
}

func (s *server) advance(c *fiber.Ctx) error {
	trx, err := s.readTransaction(c)
	if err != nil {
		return err
	}

	step := s.engine.AdvanceVerification
	if trx.Status == transaction.AwaitingAuthorization {
		step = s.engine.AdvanceAuthorization
	}
	res, err := step(c.Context(), trx.ID)
	if err != nil {
		s.log.Error(fmt.Sprintf("bot server, advance transaction %d: %s", trx.ID, err))
		return fiber.NewError(fiber.StatusBadGateway, err.Error())
	}
	return c.JSON(AdvanceResponse{Outcome: res.Outcome.String(), TransactionID: res.TransactionID})
}

func (s *server) review(c *fiber.Ctx) error {
	trx, err := s.readTransaction(c)
	if err != nil {
		return err
	}
	if trx.Status != transaction.AwaitingVerification {
		return fiber.NewError(fiber.StatusConflict, fmt.Sprintf("transaction %d is %s", trx.ID, trx.Status))
	}

	err = s.provider.ReviewVerificationRequest(c.Context(), trx.VIUserID, trx.VIVerificationRequestID)
	switch {
	case errors.Is(err, verifyinvestor.ErrStagingOnly):
		return fiber.ErrForbidden
	case err != nil:
		s.log.Error(fmt.Sprintf("bot server, review transaction %d: %s", trx.ID, err))
		return fiber.NewError(fiber.StatusBadGateway, err.Error())
	}
	return c.JSON(ReviewResponse{Reviewed: true})
}

func (s *server) transaction(c *fiber.Ctx) error {
	trx, err := s.readTransaction(c)
	if err != nil {
		return err
	}
	res := TransactionResponse{
		TransactionID: trx.ID,
		VIStatus:      int(trx.Status),
		Status:        trx.Status.String(),
		VRStatus:      trx.VIVerificationRequestStatus,
	}
	if d, ok := verifyinvestor.Describe(trx.VIVerificationRequestStatus); ok {
		res.Description = d
	}
	return c.JSON(res)
}

func (s *server) readTransaction(c *fiber.Ctx) (transaction.Transaction, error) {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || id <= 0 {
		return transaction.Transaction{}, fiber.ErrBadRequest
	}
	trx, err := s.repo.ReadTransaction(c.Context(), id)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return transaction.Transaction{}, fiber.ErrNotFound
	case err != nil:
		s.log.Error(fmt.Sprintf("bot server, read transaction %d: %s", id, err))
		return transaction.Transaction{}, fiber.ErrInternalServerError
	}
	return trx, nil
}
