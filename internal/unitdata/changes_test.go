// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package unitdata_test

import (
	"github.com/juju/collections/set"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"
)

type changesSuite struct {
	baseSuite
}

var _ = gc.Suite(&changesSuite{})

func (s *changesSuite) TestDataChanged(c *gc.C) {
	storage := s.open(c)
	config := map[string]interface{}{"vault_url": "http://vault", "role_id": "1234"}

	changed, err := storage.IsDataChanged("layer.vault-kv.config", config)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(changed, jc.IsTrue)

	changed, err = storage.DataChanged("layer.vault-kv.config", config)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(changed, jc.IsTrue)

	changed, err = storage.DataChanged("layer.vault-kv.config", map[string]interface{}{"role_id": "1234", "vault_url": "http://vault"})
	c.Assert(err, jc.ErrorIsNil)
	c.Check(changed, jc.IsFalse)

	config["role_id"] = "5678"
	changed, err = storage.IsDataChanged("layer.vault-kv.config", config)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(changed, jc.IsTrue)
}

func (s *changesSuite) TestDataChangedRecordsHash(c *gc.C) {
	storage := s.open(c)
	_, err := storage.DataChanged("value", "tested-value")
	c.Assert(err, jc.ErrorIsNil)

	hash, err := storage.Get("reactive.data_changed.value")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(hash, gc.Equals, "b40d0066377d3ec7015ab9f498699940")
}

func (s *changesSuite) TestFlags(c *gc.C) {
	storage := s.open(c)

	isSet, err := storage.IsFlagSet("layer.vault-kv.ready")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(isSet, jc.IsFalse)

	c.Assert(storage.SetFlag("layer.vault-kv.ready"), jc.ErrorIsNil)
	c.Assert(storage.SetFlag("layer.vault-kv.requested"), jc.ErrorIsNil)
	c.Assert(storage.SetFlag("layer.vault-kv.ready"), jc.ErrorIsNil)

	isSet, err = storage.IsFlagSet("layer.vault-kv.ready")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(isSet, jc.IsTrue)

	flags, err := storage.Flags()
	c.Assert(err, jc.ErrorIsNil)
	c.Check(flags, jc.DeepEquals, set.NewStrings("layer.vault-kv.ready", "layer.vault-kv.requested"))

	c.Assert(storage.ClearFlag("layer.vault-kv.ready"), jc.ErrorIsNil)
	c.Assert(storage.ClearFlag("layer.vault-kv.never"), jc.ErrorIsNil)
	flags, err = storage.Flags()
	c.Assert(err, jc.ErrorIsNil)
	c.Check(flags.SortedValues(), jc.DeepEquals, []string{"layer.vault-kv.requested"})
}

func (s *changesSuite) TestFlagsSurviveFlush(c *gc.C) {
	storage := s.open(c)
	c.Assert(storage.SetFlag("layer.vault-kv.app-kv.set.password"), jc.ErrorIsNil)
	c.Assert(storage.Flush(), jc.ErrorIsNil)
	c.Assert(storage.Close(), jc.ErrorIsNil)

	reopened := s.open(c)
	isSet, err := reopened.IsFlagSet("layer.vault-kv.app-kv.set.password")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(isSet, jc.IsTrue)
}

func (s *changesSuite) TestSetFlagEmpty(c *gc.C) {
	storage := s.open(c)
	c.Check(storage.SetFlag(""), gc.ErrorMatches, `empty flag name not valid`)
}
