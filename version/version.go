/*
Copyright 2025 The Kubernetes Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package version

var (
	// The git hash of the latest commit in the build.
	CommitSHA string

	// The build ref of the release this binary was built from.
	BuildRef string
)

// Version is the kf2 release line. Builds from a tag override it through BuildRef.
const Version = "0.3.0-dev"

// String returns a one-line description of the build.
func String() string {
	ref := BuildRef
	if ref == "" {
		ref = Version
	}
	if CommitSHA == "" {
		return ref
	}
	return ref + " (" + CommitSHA + ")"
}
