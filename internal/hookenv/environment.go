// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package hookenv gives access to the Juju hook environment: the unit's
// identity, the hook tools and the vault-kv relation endpoint.
package hookenv

import (
	"os"
	"strconv"

	"github.com/juju/errors"
	"github.com/juju/loggo"
	"github.com/juju/names/v5"
)

var logger = loggo.GetLogger("juju.vaultkv.hookenv")

const (
	envUnitName  = "JUJU_UNIT_NAME"
	envModelUUID = "JUJU_MODEL_UUID"
	envCharmDir  = "JUJU_CHARM_DIR"
)

// Environment describes the unit a hook runs for. It implements
// vaultkv.Identity.
type Environment struct {
	unit      names.UnitTag
	modelUUID string
	charmDir  string
}

// NewEnvironment returns the Environment of unitName in the model with
// the given uuid.
func NewEnvironment(unitName, modelUUID, charmDir string) (*Environment, error) {
	if !names.IsValidUnit(unitName) {
		return nil, errors.NotValidf("unit name %q", unitName)
	}
	if !names.IsValidModel(modelUUID) {
		return nil, errors.NotValidf("model uuid %q", modelUUID)
	}
	return &Environment{
		unit:      names.NewUnitTag(unitName),
		modelUUID: modelUUID,
		charmDir:  charmDir,
	}, nil
}

// EnvironmentFromOS returns the Environment described by the variables
// the unit agent sets for hooks.
func EnvironmentFromOS() (*Environment, error) {
	unitName, err := getenv(envUnitName)
	if err != nil {
		return nil, errors.Trace(err)
	}
	modelUUID, err := getenv(envModelUUID)
	if err != nil {
		return nil, errors.Trace(err)
	}
	charmDir := os.Getenv(envCharmDir)
	if charmDir == "" {
		if charmDir, err = os.Getwd(); err != nil {
			return nil, errors.Trace(err)
		}
	}
	return NewEnvironment(unitName, modelUUID, charmDir)
}

func getenv(name string) (string, error) {
	value := os.Getenv(name)
	if value == "" {
		return "", errors.NotFoundf("%s", name)
	}
	return value, nil
}

// UnitTag returns the tag of the local unit.
func (e *Environment) UnitTag() names.UnitTag {
	return e.unit
}

// LocalUnit returns the name of the local unit, eg "vault-kv-app/0".
func (e *Environment) LocalUnit() string {
	return e.unit.Id()
}

// ApplicationName implements vaultkv.Identity.
func (e *Environment) ApplicationName() string {
	app, _ := names.UnitApplication(e.unit.Id())
	return app
}

// UnitOrdinal implements vaultkv.Identity.
func (e *Environment) UnitOrdinal() string {
	return strconv.Itoa(e.unit.Number())
}

// ModelUUID implements vaultkv.Identity.
func (e *Environment) ModelUUID() string {
	return e.modelUUID
}

// CharmDir returns the directory the charm is deployed in.
func (e *Environment) CharmDir() string {
	return e.charmDir
}
