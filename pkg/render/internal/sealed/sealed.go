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

// Package sealed holds the token that closes the `types.WorkItem` variant set. Being internal to `pkg/render`, it can
// only be named by the render packages, so code outside them cannot declare the sealing method.
package sealed

// Token is the argument type of `types.WorkItem.Sealed`.
type Token struct{}
