// SPDX-License-Identifier: MPL-2.0

// Package recipe defines the image build recipe.
//
// A Recipe names the base runtime image, the OS packages to install, the
// working directory, the dependency manifest, the application source, the
// restricted process identity and the fixed launch command. Default returns
// the reference recipe for a Streamlit application on python:3.9-slim.
//
// Steps expands a recipe into its ordered build steps and CheckOrder enforces
// the ordering rules every renderer relies on: manifest before install,
// install before source, user creation before the privilege drop and the
// privilege drop before launch.
package recipe
