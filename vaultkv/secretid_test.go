// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package vaultkv

import (
	"context"

	"github.com/juju/errors"
	jc "github.com/juju/testing/checkers"
	"go.uber.org/mock/gomock"
	gc "gopkg.in/check.v1"
)

type secretIDSuite struct {
	baseSuite
}

var _ = gc.Suite(&secretIDSuite{})

const (
	vaultURL = "https://test.me:4040"
	token    = "some-secret-token-value"
)

func (s *secretIDSuite) tokenHash(c *gc.C, token string) string {
	hash, err := HashValue(token)
	c.Assert(err, jc.ErrorIsNil)
	return hash
}

func (s *secretIDSuite) TestFirstTokenExchanged(c *gc.C) {
	defer s.setupMocks(c).Finish()

	gomock.InOrder(
		s.markers.EXPECT().Get(tokenMarkerKey).Return("", errors.NotFoundf("key %q", tokenMarkerKey)),
		s.exchanger.EXPECT().ExchangeToken(gomock.Any(), vaultURL, token).Return("secret-from-token-value", nil),
		s.markers.EXPECT().Set(secretIDKey, "secret-from-token-value").Return(nil),
		s.markers.EXPECT().Set(tokenMarkerKey, s.tokenHash(c, token)).Return(nil),
		s.markers.EXPECT().Flush().Return(nil),
	)

	r := NewSecretIDResolver(s.markers, s.exchanger)
	secretID, err := r.SecretID(context.Background(), vaultURL, token)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(secretID, gc.Equals, "secret-from-token-value")
}

func (s *secretIDSuite) TestSameTokenUsesCache(c *gc.C) {
	defer s.setupMocks(c).Finish()

	s.markers.EXPECT().Get(tokenMarkerKey).Return(s.tokenHash(c, token), nil)
	s.markers.EXPECT().Get(secretIDKey).Return("cached-secret", nil)

	r := NewSecretIDResolver(s.markers, s.exchanger)
	secretID, err := r.SecretID(context.Background(), vaultURL, token)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(secretID, gc.Equals, "cached-secret")
}

func (s *secretIDSuite) TestChangedTokenExchanged(c *gc.C) {
	defer s.setupMocks(c).Finish()

	s.markers.EXPECT().Get(tokenMarkerKey).Return(s.tokenHash(c, "old-token"), nil)
	s.exchanger.EXPECT().ExchangeToken(gomock.Any(), vaultURL, token).Return("rotated", nil).Times(1)
	s.markers.EXPECT().Set(secretIDKey, "rotated").Return(nil)
	s.markers.EXPECT().Set(tokenMarkerKey, s.tokenHash(c, token)).Return(nil)
	s.markers.EXPECT().Flush().Return(nil)

	r := NewSecretIDResolver(s.markers, s.exchanger)
	secretID, err := r.SecretID(context.Background(), vaultURL, token)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(secretID, gc.Equals, "rotated")
}

func (s *secretIDSuite) TestExchangeFailureNotPersisted(c *gc.C) {
	defer s.setupMocks(c).Finish()

	s.markers.EXPECT().Get(tokenMarkerKey).Return("", errors.NotFoundf("key"))
	s.exchanger.EXPECT().ExchangeToken(gomock.Any(), vaultURL, token).
		Return("", errors.WithType(errors.New("vault is sealed"), BackendUnavailable))

	r := NewSecretIDResolver(s.markers, s.exchanger)
	_, err := r.SecretID(context.Background(), vaultURL, token)
	c.Check(err, gc.ErrorMatches, "exchanging one-time token: vault is sealed")
	c.Check(errors.Is(err, NotReady), jc.IsTrue)
	c.Check(errors.Is(err, BackendUnavailable), jc.IsTrue)
}

func (s *secretIDSuite) TestConsumedTokenWithoutSecretID(c *gc.C) {
	defer s.setupMocks(c).Finish()

	s.markers.EXPECT().Get(tokenMarkerKey).Return(s.tokenHash(c, token), nil)
	s.markers.EXPECT().Get(secretIDKey).Return("", errors.NotFoundf("key"))
	s.exchanger.EXPECT().ExchangeToken(gomock.Any(), vaultURL, token).
		Return("", errors.WithType(errors.New("wrapping token is not valid or does not exist"), AuthenticationFailure))

	r := NewSecretIDResolver(s.markers, s.exchanger)
	_, err := r.SecretID(context.Background(), vaultURL, token)
	c.Check(errors.Is(err, NotReady), jc.IsTrue)
	c.Check(errors.Is(err, AuthenticationFailure), jc.IsTrue)
}

func (s *secretIDSuite) TestFlushFailure(c *gc.C) {
	defer s.setupMocks(c).Finish()

	s.markers.EXPECT().Get(tokenMarkerKey).Return("", errors.NotFoundf("key"))
	s.exchanger.EXPECT().ExchangeToken(gomock.Any(), vaultURL, token).Return("secret", nil)
	s.markers.EXPECT().Set(gomock.Any(), gomock.Any()).Return(nil).Times(2)
	s.markers.EXPECT().Flush().Return(errors.New("disk full"))

	r := NewSecretIDResolver(s.markers, s.exchanger)
	_, err := r.SecretID(context.Background(), vaultURL, token)
	c.Check(err, gc.ErrorMatches, "flushing secret id: disk full")
	c.Check(errors.Is(err, NotReady), jc.IsFalse)
}

func (s *secretIDSuite) TestEmptyToken(c *gc.C) {
	defer s.setupMocks(c).Finish()

	r := NewSecretIDResolver(s.markers, s.exchanger)
	_, err := r.SecretID(context.Background(), vaultURL, "")
	c.Check(errors.Is(err, NotReady), jc.IsTrue)
}
