// Package areadetector implements detector control and HDF file writing for
// areaDetector-style IOCs: driver and file plugin devices, their controllers,
// the HDF stream writer, and a simulated IOC for running without hardware.
package areadetector
