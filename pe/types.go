/*
 * Copyright (C) 2024 waltid-identity community
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program.  If not, see <https://www.gnu.org/licenses/>.
 *
 */

// Package pe implements Presentation Exchange: matching held credentials against a
// verifier-specified presentation definition.
package pe

import (
	"crypto/sha256"
	"encoding/json"
)

// PresentationDefinition describes which credential types/fields satisfy a presentation request.
type PresentationDefinition struct {
	Id               string             `json:"id"`
	Name             string             `json:"name,omitempty"`
	Purpose          string             `json:"purpose,omitempty"`
	InputDescriptors []*InputDescriptor `json:"input_descriptors"`
}

// InputDescriptor describes a single required input. Its constraints filter on credential fields;
// without constraints, its name identifies a required credential type.
type InputDescriptor struct {
	Id          string       `json:"id"`
	Name        string       `json:"name,omitempty"`
	Purpose     string       `json:"purpose,omitempty"`
	Constraints *Constraints `json:"constraints,omitempty"`
}

// Constraints holds the field constraints of an input descriptor.
type Constraints struct {
	Fields []Field `json:"fields,omitempty"`
}

// Field is a single field constraint: a set of candidate JSON paths with an optional filter.
type Field struct {
	Path     []string `json:"path"`
	Optional *bool    `json:"optional,omitempty"`
	Purpose  string   `json:"purpose,omitempty"`
	Filter   *Filter  `json:"filter,omitempty"`
}

// Filter is a JSON Schema descriptor applied to the value at a field path.
// Supported properties: type, const, enum, pattern.
type Filter struct {
	Type    string    `json:"type"`
	Const   *string   `json:"const,omitempty"`
	Enum    *[]string `json:"enum,omitempty"`
	Pattern *string   `json:"pattern,omitempty"`
}

// PresentationSubmission maps the credentials of a presentation to the input descriptors they satisfy.
type PresentationSubmission struct {
	Id            string                         `json:"id"`
	DefinitionId  string                         `json:"definition_id"`
	DescriptorMap []InputDescriptorMappingObject `json:"descriptor_map"`
}

// InputDescriptorMappingObject is a single entry in a presentation submission's descriptor map.
type InputDescriptorMappingObject struct {
	Id     string `json:"id"`
	Format string `json:"format"`
	Path   string `json:"path"`
}

// Digest returns a stable digest over the canonical JSON form of the definition.
// Used as part of composite session keys; hashing avoids the separator-ambiguity of
// concatenating raw values.
func (d PresentationDefinition) Digest() [32]byte {
	data, _ := json.Marshal(d)
	return sha256.Sum256(data)
}

// Empty returns whether the definition has no input descriptors.
func (d PresentationDefinition) Empty() bool {
	return len(d.InputDescriptors) == 0
}
